package canbridge

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data frames and Remote Transmission Request (RTR)
//   - Data length 0-8 bytes (classical CAN)
//
// Frame is a plain value; two frames are equal when identifier, flags, length
// and all eight data bytes are equal.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	MaxStdID = 0x7FF
	MaxExtID = 0x1FFFFFFF
	MaxLen   = 8
)

// WireSize is the size of the Linux SocketCAN struct can_frame.
const WireSize = 16

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the meaningful data bytes.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// MustFrame constructs a Frame and panics if invalid. Convenience for tests
// and examples.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > MaxStdID {
		f.Extended = true
	}
	if len(data) > MaxLen {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes).
//
// Layout (little-endian):
//
//	0..3  can_id (with flags: EFF/RTR/ERR)
//	4     can_dlc (data length code)
//	5..7  padding (set to zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, WireSize)
	if err := f.putWire(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalBinary decodes a frame from the Linux SocketCAN can_frame layout.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < WireSize {
		return fmt.Errorf("canbridge: need %d bytes, got %d", WireSize, len(data))
	}
	return f.readWire(data)
}

// Key returns the identifier in its can_id wire form, with the extended and
// remote flags set. A standard, an extended and a remote frame sharing a
// numeric identifier have distinct keys.
func (f Frame) Key() uint32 {
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	return id
}

// putWire writes the can_frame layout into buf, which must hold WireSize bytes.
func (f *Frame) putWire(buf []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[0:4], f.Key())
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

func (f *Frame) readWire(buf []byte) error {
	id := binary.LittleEndian.Uint32(buf[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = buf[4]
	copy(f.Data[:], buf[8:16])
	return f.Validate()
}

// String renders the frame as "ID [LEN] B0 B1 ..." with hexadecimal fields.
// Extended identifiers use eight digits, standard ones three.
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%08X", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X", f.ID)
	}
	fmt.Fprintf(&sb, " [%d]", f.Len)
	if f.RTR {
		sb.WriteString(" RTR")
		return sb.String()
	}
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}

// ParseFrame parses the compact "ID#DATA" notation used by can-utils:
//
//	123#DEADBEEF     standard frame, 4 data bytes
//	1ABCDEFF#00      extended frame (eight hex digits select extended)
//	123#R            remote frame, length 0
//	123#R4           remote frame, length 4
//
// Data bytes may be separated by '.' for readability ("123#DE.AD").
func ParseFrame(s string) (Frame, error) {
	var f Frame
	idPart, dataPart, ok := strings.Cut(s, "#")
	if !ok {
		return f, fmt.Errorf("canbridge: frame %q: missing '#'", s)
	}
	if len(idPart) == 0 || len(idPart) > 8 {
		return f, fmt.Errorf("canbridge: frame %q: %w", s, ErrInvalidID)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return f, fmt.Errorf("canbridge: frame %q: %w", s, ErrInvalidID)
	}
	f.ID = uint32(id)
	f.Extended = len(idPart) == 8 || f.ID > MaxStdID

	if strings.HasPrefix(dataPart, "R") || strings.HasPrefix(dataPart, "r") {
		f.RTR = true
		if rest := dataPart[1:]; rest != "" {
			n, err := strconv.ParseUint(rest, 10, 8)
			if err != nil || n > MaxLen {
				return Frame{}, fmt.Errorf("canbridge: frame %q: %w", s, ErrInvalidLen)
			}
			f.Len = uint8(n)
		}
		return f, f.Validate()
	}

	raw, err := hex.DecodeString(strings.ReplaceAll(dataPart, ".", ""))
	if err != nil {
		return Frame{}, fmt.Errorf("canbridge: frame %q: %w", s, err)
	}
	if len(raw) > MaxLen {
		return Frame{}, fmt.Errorf("canbridge: frame %q: %w", s, ErrInvalidLen)
	}
	f.Len = uint8(len(raw))
	copy(f.Data[:], raw)
	return f, f.Validate()
}
