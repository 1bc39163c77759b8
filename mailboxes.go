package canbridge

import (
	"sync"
	"sync/atomic"
)

// MailboxSet maps identifier keys (see Frame.Key) to mailboxes. Mailboxes are created on first
// reference and never removed.
//
// Either side of a bridge may insert. Lookups of known identifiers take a
// read lock only; Range iterates an immutable snapshot and takes no lock.
// Inserting a new identifier is a short write-locked section that publishes
// a new snapshot; mailbox pointers already handed out stay valid.
type MailboxSet struct {
	mu    sync.RWMutex
	byID  map[uint32]*Mailbox
	order atomic.Pointer[[]*Mailbox]
}

// NewMailboxSet returns an empty set.
func NewMailboxSet() *MailboxSet {
	s := &MailboxSet{byID: make(map[uint32]*Mailbox)}
	s.order.Store(&[]*Mailbox{})
	return s
}

// Get returns the mailbox for id, creating it if absent.
func (s *MailboxSet) Get(id uint32) *Mailbox {
	s.mu.RLock()
	m, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok {
		return m
	}
	m = NewMailbox(id)
	s.byID[id] = m
	old := *s.order.Load()
	next := make([]*Mailbox, len(old), len(old)+1)
	copy(next, old)
	next = append(next, m)
	s.order.Store(&next)
	return m
}

// Lookup returns the mailbox for id without creating it.
func (s *MailboxSet) Lookup(id uint32) (*Mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok
}

// Range calls fn for every mailbox in creation order until fn returns false.
// Mailboxes inserted during the iteration are not visited.
func (s *MailboxSet) Range(fn func(*Mailbox) bool) {
	for _, m := range *s.order.Load() {
		if !fn(m) {
			return
		}
	}
}

// Len returns the number of mailboxes.
func (s *MailboxSet) Len() int {
	return len(*s.order.Load())
}

// Stats returns counters for every mailbox in creation order.
func (s *MailboxSet) Stats() []MailboxStats {
	boxes := *s.order.Load()
	out := make([]MailboxStats, 0, len(boxes))
	for _, m := range boxes {
		out = append(out, m.Stats())
	}
	return out
}
