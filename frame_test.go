package canbridge

import (
	"errors"
	"testing"
)

func TestFrame_Validate_Marshal_Unmarshal_String(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
	}{
		{
			name:    "standard frame with data",
			frame:   MustFrame(0x123, []byte{0xDE, 0xAD}),
			wantStr: "123 [2] DE AD",
		},
		{
			name:    "extended RTR, zero length",
			frame:   Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true, Len: 0},
			wantStr: "1ABCDEFF [0] RTR",
		},
		{
			name:    "full payload",
			frame:   MustFrame(0x201, []byte{0, 1, 2, 3, 4, 5, 6, 7}),
			wantStr: "201 [8] 00 01 02 03 04 05 06 07",
		},
	}

	for _, tc := range cases {
		if err := tc.frame.Validate(); err != nil {
			t.Fatalf("%s: Validate() error = %v", tc.name, err)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary() error = %v", tc.name, err)
		}
		if len(b) != WireSize {
			t.Fatalf("%s: encoded %d bytes, want %d", tc.name, len(b), WireSize)
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: UnmarshalBinary() error = %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip mismatch: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}
}

func TestFrame_Invalid(t *testing.T) {
	if err := (Frame{ID: 0x800}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("standard id 0x800: got %v", err)
	}
	if err := (Frame{ID: 0x20000000, Extended: true}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("extended id 0x20000000: got %v", err)
	}
	if err := (Frame{ID: 1, Len: 9}).Validate(); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("len 9: got %v", err)
	}
	var f Frame
	if err := f.UnmarshalBinary(make([]byte, WireSize-1)); err == nil {
		t.Fatalf("short buffer should fail")
	}
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("MustFrame should panic for len>8")
			}
		}()
		_ = MustFrame(0x123, make([]byte, 9))
	}()
}

func TestFrame_WireLayout(t *testing.T) {
	f := Frame{ID: 0x1ABCDEFF, Extended: true, Len: 1, Data: [8]byte{0x42}}
	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{0xFF, 0xDE, 0xBC, 0x9A, 1, 0, 0, 0, 0x42, 0, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d = %02X, want %02X (% X)", i, b[i], want[i], b)
		}
	}
}

func TestFrame_Key(t *testing.T) {
	std := Frame{ID: 0x100}
	ext := Frame{ID: 0x100, Extended: true}
	rtr := Frame{ID: 0x100, RTR: true}
	if std.Key() != 0x100 {
		t.Fatalf("std key = %08X", std.Key())
	}
	if ext.Key() != 0x80000100 {
		t.Fatalf("ext key = %08X", ext.Key())
	}
	if rtr.Key() != 0x40000100 {
		t.Fatalf("rtr key = %08X", rtr.Key())
	}
	b, _ := ext.MarshalBinary()
	if got := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24; got != ext.Key() {
		t.Fatalf("wire can_id %08X != key %08X", got, ext.Key())
	}
}

func TestParseFrame(t *testing.T) {
	cases := []struct {
		in   string
		want Frame
	}{
		{"123#DEADBEEF", Frame{ID: 0x123, Len: 4, Data: [8]byte{0xDE, 0xAD, 0xBE, 0xEF}}},
		{"123#DE.AD", Frame{ID: 0x123, Len: 2, Data: [8]byte{0xDE, 0xAD}}},
		{"7FF#", Frame{ID: 0x7FF}},
		{"00000123#00", Frame{ID: 0x123, Extended: true, Len: 1}},
		{"1ABCDEFF#01", Frame{ID: 0x1ABCDEFF, Extended: true, Len: 1, Data: [8]byte{1}}},
		{"123#R", Frame{ID: 0x123, RTR: true}},
		{"123#R4", Frame{ID: 0x123, RTR: true, Len: 4}},
	}
	for _, tc := range cases {
		got, err := ParseFrame(tc.in)
		if err != nil {
			t.Fatalf("ParseFrame(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseFrame(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "123", "#00", "XYZ#00", "123#0", "123#000102030405060708", "123#R9", "123456789#00"} {
		if _, err := ParseFrame(bad); err == nil {
			t.Fatalf("ParseFrame(%q) should fail", bad)
		}
	}
}
