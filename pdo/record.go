package pdo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/canbridge"
)

// Record layout constants.
const (
	MaxEntries = 17
	HeaderSize = 5
	EntrySize  = 11
	RecordSize = HeaderSize + MaxEntries*EntrySize
)

const (
	idMask   = 0x07FF
	lenShift = 11
	lenMask  = 0x0F
)

// Command is the mode byte carried in every record.
type Command uint8

const (
	CommandLoopTest      Command = 0x00 // gateway echoes what it receives
	CommandWorkMode      Command = 0x01 // normal forwarding
	CommandHardwareReset Command = 0x02 // gateway resets itself
	CommandOnlyFeedback  Command = 0x03 // gateway reports bus traffic only
)

var commandNames = map[Command]string{
	CommandLoopTest:      "loop-test",
	CommandWorkMode:      "work",
	CommandHardwareReset: "reset",
	CommandOnlyFeedback:  "feedback",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// ParseCommand accepts the names printed by Command.String.
func ParseCommand(s string) (Command, error) {
	for c, name := range commandNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("pdo: unknown command %q", s)
}

// ErrExtendedID reports a frame that cannot be stored in a record entry.
var ErrExtendedID = errors.New("pdo: extended identifier does not fit a record entry")

// ErrRemoteFrame reports a remote request, which a record entry has no flag for.
var ErrRemoteFrame = errors.New("pdo: remote frame does not fit a record entry")

// Entry is one frame slot of a record.
type Entry struct {
	Channel uint8
	ID      uint16 // 11-bit standard identifier
	Len     uint8  // 0..8 (4 bits on the wire)
	Data    [8]byte
}

// EntryFromFrame converts a standard data frame for the given channel.
func EntryFromFrame(channel uint8, f canbridge.Frame) (Entry, error) {
	if f.Extended || f.ID > canbridge.MaxStdID {
		return Entry{}, ErrExtendedID
	}
	if f.RTR {
		return Entry{}, ErrRemoteFrame
	}
	if f.Len > canbridge.MaxLen {
		return Entry{}, canbridge.ErrInvalidLen
	}
	return Entry{Channel: channel, ID: uint16(f.ID), Len: f.Len, Data: f.Data}, nil
}

// Frame converts the entry to a bus frame. Only Len data bytes are copied.
func (e Entry) Frame() canbridge.Frame {
	f := canbridge.Frame{ID: uint32(e.ID) & idMask, Len: e.Len}
	n := int(e.Len)
	if n > canbridge.MaxLen {
		n = canbridge.MaxLen
	}
	copy(f.Data[:n], e.Data[:n])
	return f
}

// Record is the decoded process-data image.
type Record struct {
	Command Command
	Count   uint8
	Entries [MaxEntries]Entry
}

// Reset clears all entries and sets the command.
func (r *Record) Reset(cmd Command) {
	*r = Record{Command: cmd}
}

// Add appends an entry. It returns false when the record is full.
func (r *Record) Add(e Entry) bool {
	if int(r.Count) >= MaxEntries {
		return false
	}
	r.Entries[r.Count] = e
	r.Count++
	return true
}

// Valid returns the populated entries, capped at MaxEntries.
func (r *Record) Valid() []Entry {
	n := int(r.Count)
	if n > MaxEntries {
		n = MaxEntries
	}
	return r.Entries[:n]
}

// MarshalBinary encodes the record image.
func (r *Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	if err := r.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo encodes the record image into buf without allocating.
func (r *Record) MarshalTo(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("pdo: need %d bytes, got %d", RecordSize, len(buf))
	}
	buf[0] = byte(r.Command)
	buf[1] = r.Count
	buf[2], buf[3], buf[4] = 0, 0, 0
	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Len > lenMask {
			return fmt.Errorf("pdo: entry %d: %w", i, canbridge.ErrInvalidLen)
		}
		off := HeaderSize + i*EntrySize
		buf[off] = e.Channel
		bits := (e.ID & idMask) | uint16(e.Len&lenMask)<<lenShift
		binary.LittleEndian.PutUint16(buf[off+1:off+3], bits)
		copy(buf[off+3:off+EntrySize], e.Data[:])
	}
	return nil
}

// UnmarshalBinary decodes a record image. Count is kept as received, even
// when it exceeds MaxEntries.
func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("pdo: need %d bytes, got %d", RecordSize, len(buf))
	}
	r.Command = Command(buf[0])
	r.Count = buf[1]
	for i := range r.Entries {
		e := &r.Entries[i]
		off := HeaderSize + i*EntrySize
		e.Channel = buf[off]
		bits := binary.LittleEndian.Uint16(buf[off+1 : off+3])
		e.ID = bits & idMask
		e.Len = uint8(bits>>lenShift) & lenMask
		copy(e.Data[:], buf[off+3:off+EntrySize])
	}
	return nil
}
