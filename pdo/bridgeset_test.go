package pdo

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canbridge"
)

var testChannels = []string{"vcan0", "vcan1"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestSet(t *testing.T, channels ...string) (*BridgeSet, *canbridge.SimBus) {
	t.Helper()
	if len(channels) == 0 {
		channels = testChannels
	}
	bus := canbridge.NewSimBus()
	for _, name := range channels {
		bus.AddInterface(name, true)
	}
	set, err := New(Config{
		Channels: channels,
		Command:  CommandWorkMode,
		Logger:   quietLogger(),
		BridgeOptions: []canbridge.Option{
			canbridge.WithOpener(bus.Open),
			canbridge.WithPeriod(time.Millisecond),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })
	require.Eventually(t, func() bool {
		for i := 0; i < set.Len(); i++ {
			if !set.Bridge(i).Live() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	return set, bus
}

func waitReceived(t *testing.T, b *canbridge.Bridge, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Stats().Received >= n }, time.Second, time.Millisecond)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Channels: make([]string, 257)})
	assert.Error(t, err)

	bus := canbridge.NewSimBus()
	bus.AddInterface("vcan0", true)
	_, err = New(Config{
		Channels:      []string{"vcan0", "averyveryverylongname"},
		Logger:        quietLogger(),
		BridgeOptions: []canbridge.Option{canbridge.WithOpener(bus.Open)},
	})
	require.ErrorIs(t, err, canbridge.ErrNameTooLong)
	assert.Zero(t, bus.Endpoints("vcan0"), "bridges built before the failure are closed")
}

func TestBridgeSet_DispatchRoutesByChannel(t *testing.T) {
	set, bus := newTestSet(t)
	sent0, cancel0 := bus.Watch("vcan0", nil, 4)
	defer cancel0()
	sent1, cancel1 := bus.Watch("vcan1", nil, 4)
	defer cancel1()

	var rec Record
	rec.Reset(CommandHardwareReset)
	rec.Add(Entry{Channel: 0, ID: 0x201, Len: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}})
	rec.Add(Entry{Channel: 1, ID: 0x202, Len: 1, Data: [8]byte{9}})
	rec.Add(Entry{Channel: 5, ID: 0x203})
	set.Dispatch(&rec)

	assert.Equal(t, CommandHardwareReset, set.LastCommand())
	assert.Equal(t, uint64(1), set.Rejected())

	select {
	case f := <-sent0:
		assert.Equal(t, canbridge.Frame{ID: 0x201, Len: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}, f)
	case <-time.After(time.Second):
		t.Fatal("vcan0 frame not sent")
	}
	select {
	case f := <-sent1:
		assert.Equal(t, canbridge.MustFrame(0x202, []byte{9}), f)
	case <-time.After(time.Second):
		t.Fatal("vcan1 frame not sent")
	}
}

func TestBridgeSet_DispatchCapsCount(t *testing.T) {
	set, _ := newTestSet(t)

	var rec Record
	for i := 0; i < MaxEntries; i++ {
		rec.Add(Entry{Channel: 0, ID: uint16(0x100 + i)})
	}
	rec.Count = 200
	set.Dispatch(&rec)

	require.Eventually(t, func() bool { return set.Bridge(0).Stats().Sent == MaxEntries }, time.Second, time.Millisecond)
	assert.Zero(t, set.Rejected())
}

func TestBridgeSet_DispatchRejectsInvalidLength(t *testing.T) {
	set, _ := newTestSet(t)

	var rec Record
	rec.Add(Entry{Channel: 0, ID: 0x100, Len: 12})
	set.Dispatch(&rec)
	assert.Equal(t, uint64(1), set.Rejected())
	assert.Empty(t, set.Bridge(0).Stats().Outbound)
}

func TestBridgeSet_CollectAllChannels(t *testing.T) {
	set, bus := newTestSet(t)

	require.NoError(t, bus.Inject("vcan0", canbridge.MustFrame(0x100, []byte{1, 0, 0, 0, 0, 0, 0, 0})))
	require.NoError(t, bus.Inject("vcan0", canbridge.MustFrame(0x100, []byte{2, 0, 0, 0, 0, 0, 0, 0})))
	require.NoError(t, bus.Inject("vcan1", canbridge.MustFrame(0x181, []byte{7})))
	waitReceived(t, set.Bridge(0), 2)
	waitReceived(t, set.Bridge(1), 1)

	var rec Record
	set.Collect(&rec)
	assert.Equal(t, CommandWorkMode, rec.Command)
	assert.Equal(t, []Entry{
		{Channel: 0, ID: 0x100, Len: 8, Data: [8]byte{2}},
		{Channel: 1, ID: 0x181, Len: 1, Data: [8]byte{7}},
	}, rec.Valid())

	set.Collect(&rec)
	assert.Empty(t, rec.Valid(), "frames are collected once")
}

func TestBridgeSet_CollectDropsBeyondCapacity(t *testing.T) {
	set, bus := newTestSet(t)

	const n = MaxEntries + 3
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Inject("vcan0", canbridge.MustFrame(uint32(0x100+i), nil)))
	}
	waitReceived(t, set.Bridge(0), n)

	var rec Record
	set.Collect(&rec)
	assert.Len(t, rec.Valid(), MaxEntries)
	assert.Equal(t, uint64(3), set.Dropped())
}

func TestBridgeSet_CollectRejectsExtended(t *testing.T) {
	set, bus := newTestSet(t)

	require.NoError(t, bus.Inject("vcan1", canbridge.Frame{ID: 0x1ABCDEFF, Extended: true}))
	waitReceived(t, set.Bridge(1), 1)

	var rec Record
	set.Collect(&rec)
	assert.Empty(t, rec.Valid())
	assert.Equal(t, uint64(1), set.Rejected())
}

func TestBridgeSet_CollectRejectsRemote(t *testing.T) {
	set, bus := newTestSet(t)

	require.NoError(t, bus.Inject("vcan0", canbridge.Frame{ID: 0x123, RTR: true, Len: 4}))
	require.NoError(t, bus.Inject("vcan0", canbridge.MustFrame(0x123, []byte{7})))
	waitReceived(t, set.Bridge(0), 2)

	var rec Record
	set.Collect(&rec)
	require.Len(t, rec.Valid(), 1)
	assert.Equal(t, canbridge.MustFrame(0x123, []byte{7}), rec.Valid()[0].Frame())
	assert.Equal(t, uint64(1), set.Rejected())
}

func TestBridgeSet_UpdateWithHost(t *testing.T) {
	set, bus := newTestSet(t)
	host := NewMemoryHost()
	sent, cancel := bus.Watch("vcan1", nil, 4)
	defer cancel()

	var in Record
	in.Reset(CommandWorkMode)
	in.Add(Entry{Channel: 1, ID: 0x301, Len: 2, Data: [8]byte{0xBE, 0xEF}})
	require.NoError(t, host.Push(&in))
	require.NoError(t, bus.Inject("vcan0", canbridge.MustFrame(0x181, []byte{1})))
	waitReceived(t, set.Bridge(0), 1)

	require.NoError(t, set.Update(host))

	last, err := host.Last()
	require.NoError(t, err)
	assert.Equal(t, CommandWorkMode, last.Command)
	assert.Equal(t, []Entry{{Channel: 0, ID: 0x181, Len: 1, Data: [8]byte{1}}}, last.Valid())

	select {
	case f := <-sent:
		assert.Equal(t, canbridge.MustFrame(0x301, []byte{0xBE, 0xEF}), f)
	case <-time.After(time.Second):
		t.Fatal("record entry not sent")
	}

	// The next cycle sees no new inbound entries and sends nothing again.
	require.NoError(t, set.Update(host))
	last, err = host.Last()
	require.NoError(t, err)
	assert.Empty(t, last.Valid())
}

type failingHost struct{ err error }

func (h failingHost) ReadRecord(*Record) error  { return h.err }
func (h failingHost) WriteRecord(*Record) error { return nil }

func TestBridgeSet_UpdateHostError(t *testing.T) {
	set, _ := newTestSet(t)
	err := set.Update(failingHost{err: fmt.Errorf("link lost")})
	assert.ErrorContains(t, err, "link lost")
}

func TestBridgeSet_CloseStopsAllBridges(t *testing.T) {
	set, bus := newTestSet(t, "vcan0", "vcan1", "vcan2")
	require.NoError(t, set.Close())
	require.NoError(t, set.Close())
	for _, name := range []string{"vcan0", "vcan1", "vcan2"} {
		assert.Zero(t, bus.Endpoints(name))
	}
	for _, st := range set.Stats() {
		assert.Equal(t, canbridge.StateClosed, st.State)
	}
}
