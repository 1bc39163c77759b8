package pdo

import (
	"sync"
)

// Host is the cyclic exchange capability provided by the real-time
// transport. ReadRecord fills rec with the record received this cycle;
// WriteRecord hands over the record to transmit.
type Host interface {
	ReadRecord(rec *Record) error
	WriteRecord(rec *Record) error
}

// MemoryHost is a Host backed by two record images in memory. It stands in
// for the transport in tests and simulated runs.
type MemoryHost struct {
	mu       sync.Mutex
	inbound  [RecordSize]byte
	outbound [RecordSize]byte
	reads    uint64
	writes   uint64
}

// NewMemoryHost returns a host whose inbound record is empty.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{}
}

// Push sets the record returned by subsequent ReadRecord calls. Entries are
// consumed once: after one read the inbound count drops to zero.
func (h *MemoryHost) Push(rec *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rec.MarshalTo(h.inbound[:])
}

// Last returns the most recently written record.
func (h *MemoryHost) Last() (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var rec Record
	err := rec.UnmarshalBinary(h.outbound[:])
	return rec, err
}

// Cycles returns how many records were read and written.
func (h *MemoryHost) Cycles() (reads, writes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads, h.writes
}

func (h *MemoryHost) ReadRecord(rec *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := rec.UnmarshalBinary(h.inbound[:]); err != nil {
		return err
	}
	h.inbound[1] = 0
	h.reads++
	return nil
}

func (h *MemoryHost) WriteRecord(rec *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := rec.MarshalTo(h.outbound[:]); err != nil {
		return err
	}
	h.writes++
	return nil
}
