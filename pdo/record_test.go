package pdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canbridge"
)

func TestRecord_Size(t *testing.T) {
	assert.Equal(t, 192, RecordSize)
}

func TestRecord_WireLayout(t *testing.T) {
	var rec Record
	rec.Reset(CommandWorkMode)
	require.True(t, rec.Add(Entry{Channel: 2, ID: 0x201, Len: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}))
	require.True(t, rec.Add(Entry{Channel: 0, ID: 0x7FF, Len: 1, Data: [8]byte{0xAA}}))

	buf, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, RecordSize)

	assert.Equal(t, []byte{0x01, 0x02, 0, 0, 0}, buf[:HeaderSize])
	// 0x201 | 8<<11 = 0x4201
	assert.Equal(t, []byte{0x02, 0x01, 0x42, 0, 1, 2, 3, 4, 5, 6, 7}, buf[HeaderSize:HeaderSize+EntrySize])
	// 0x7FF | 1<<11 = 0x0FFF
	assert.Equal(t, []byte{0x00, 0xFF, 0x0F, 0xAA, 0, 0, 0, 0, 0, 0, 0}, buf[HeaderSize+EntrySize:HeaderSize+2*EntrySize])

	var got Record
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, rec, got)
}

func TestRecord_AddCapacity(t *testing.T) {
	var rec Record
	for i := 0; i < MaxEntries; i++ {
		require.True(t, rec.Add(Entry{ID: uint16(i)}))
	}
	assert.False(t, rec.Add(Entry{ID: 0x100}))
	assert.Len(t, rec.Valid(), MaxEntries)

	rec.Reset(CommandLoopTest)
	assert.Empty(t, rec.Valid())
	assert.Equal(t, CommandLoopTest, rec.Command)
}

func TestRecord_CountBeyondCapacity(t *testing.T) {
	buf := make([]byte, RecordSize)
	buf[1] = 40
	var rec Record
	require.NoError(t, rec.UnmarshalBinary(buf))
	assert.Equal(t, uint8(40), rec.Count)
	assert.Len(t, rec.Valid(), MaxEntries)
}

func TestRecord_Errors(t *testing.T) {
	var rec Record
	assert.Error(t, rec.UnmarshalBinary(make([]byte, RecordSize-1)))
	assert.Error(t, rec.MarshalTo(make([]byte, RecordSize-1)))

	rec.Add(Entry{ID: 1, Len: 16})
	assert.ErrorIs(t, rec.MarshalTo(make([]byte, RecordSize)), canbridge.ErrInvalidLen)
}

func TestEntry_FrameConversion(t *testing.T) {
	f := canbridge.MustFrame(0x123, []byte{1, 2, 3})
	e, err := EntryFromFrame(3, f)
	require.NoError(t, err)
	assert.Equal(t, Entry{Channel: 3, ID: 0x123, Len: 3, Data: [8]byte{1, 2, 3}}, e)
	assert.Equal(t, f, e.Frame())

	_, err = EntryFromFrame(0, canbridge.Frame{ID: 0x123, Extended: true})
	assert.ErrorIs(t, err, ErrExtendedID)

	_, err = EntryFromFrame(0, canbridge.Frame{ID: 0x123, RTR: true, Len: 2})
	assert.ErrorIs(t, err, ErrRemoteFrame)

	// Bytes beyond Len are not carried into the frame.
	e = Entry{ID: 0x10, Len: 1, Data: [8]byte{1, 2, 3}}
	assert.Equal(t, canbridge.MustFrame(0x10, []byte{1}), e.Frame())

	// An invalid length survives conversion and is rejected by validation.
	e = Entry{ID: 0x10, Len: 12}
	assert.ErrorIs(t, e.Frame().Validate(), canbridge.ErrInvalidLen)
}

func TestCommand_Names(t *testing.T) {
	for _, c := range []Command{CommandLoopTest, CommandWorkMode, CommandHardwareReset, CommandOnlyFeedback} {
		got, err := ParseCommand(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCommand("WORK")
	require.NoError(t, err)
	assert.Equal(t, CommandWorkMode, got)

	_, err = ParseCommand("bogus")
	assert.Error(t, err)
	assert.Equal(t, "Command(0x09)", Command(9).String())
}

func TestMemoryHost_ConsumesOnce(t *testing.T) {
	h := NewMemoryHost()
	var in Record
	in.Reset(CommandOnlyFeedback)
	in.Add(Entry{Channel: 1, ID: 0x300, Len: 2, Data: [8]byte{1, 2}})
	require.NoError(t, h.Push(&in))

	var got Record
	require.NoError(t, h.ReadRecord(&got))
	assert.Equal(t, in, got)

	require.NoError(t, h.ReadRecord(&got))
	assert.Empty(t, got.Valid())
	assert.Equal(t, CommandOnlyFeedback, got.Command)

	require.NoError(t, h.WriteRecord(&in))
	last, err := h.Last()
	require.NoError(t, err)
	assert.Equal(t, in, last)

	reads, writes := h.Cycles()
	assert.Equal(t, uint64(2), reads)
	assert.Equal(t, uint64(1), writes)
}
