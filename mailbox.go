package canbridge

import "sync"

// Mailbox is a single-slot, overwrite-on-write holder for the latest frame of
// one identifier in one direction.
//
// One goroutine writes and one goroutine reads. Both sides hold the mutex
// only for a frame copy and a flag flip, so neither can be held up by I/O on
// the other side.
type Mailbox struct {
	id uint32

	mu         sync.Mutex
	last       Frame
	fresh      bool
	writes     uint64
	overwrites uint64
}

// MailboxStats is a snapshot of a mailbox's counters.
type MailboxStats struct {
	ID         uint32 // key, see Frame.Key
	Writes     uint64 // total writes
	Overwrites uint64 // writes that replaced an unread frame
	Fresh      bool
}

// NewMailbox returns an empty mailbox for id, normally a Frame.Key.
func NewMailbox(id uint32) *Mailbox {
	return &Mailbox{id: id}
}

// ID returns the key the mailbox was created for.
func (m *Mailbox) ID() uint32 { return m.id }

// Write stores f as the latest frame and marks it fresh. An unread frame is
// discarded.
func (m *Mailbox) Write(f Frame) {
	m.mu.Lock()
	if m.fresh {
		m.overwrites++
	}
	m.last = f
	m.fresh = true
	m.writes++
	m.mu.Unlock()
}

// ReadIfFresh returns the stored frame and clears the fresh flag. If nothing
// was written since the last read it returns false and changes nothing.
func (m *Mailbox) ReadIfFresh() (Frame, bool) {
	m.mu.Lock()
	if !m.fresh {
		m.mu.Unlock()
		return Frame{}, false
	}
	f := m.last
	m.fresh = false
	m.mu.Unlock()
	return f, true
}

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MailboxStats{ID: m.id, Writes: m.writes, Overwrites: m.overwrites, Fresh: m.fresh}
}
