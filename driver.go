package canbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// State is the health state of a channel.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Driver owns exactly one bus endpoint for one named interface.
//
// State machine:
//
//	Closed  --Open-->    Open
//	Open    --fault-->   Faulted
//	any     --Reopen-->  Closed --Open--> Open | Closed
//
// Every data operation requires Open; otherwise it fails with ErrNotLive
// without touching the endpoint. The driver never retries on its own:
// recovery is the caller's Reopen.
//
// Driver is safe for concurrent use. State may be read without blocking on
// in-flight I/O.
type Driver struct {
	iface  string
	opener Opener
	logger *slog.Logger

	state atomic.Int32

	mu   sync.Mutex
	ep   Endpoint
	rbuf [WireSize]byte
	wbuf [WireSize]byte
}

// NewDriver returns a closed driver for iface. It fails only when the name
// does not fit IFNAMSIZ. A nil opener selects SocketCAN; a nil logger selects
// slog.Default().
func NewDriver(iface string, opener Opener, logger *slog.Logger) (*Driver, error) {
	if err := ValidateInterfaceName(iface); err != nil {
		return nil, fmt.Errorf("%w: %q", err, iface)
	}
	if opener == nil {
		opener = SocketCAN
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		iface:  iface,
		opener: opener,
		logger: logger.With("iface", iface),
	}, nil
}

// Interface returns the interface name the driver is bound to.
func (d *Driver) Interface() string { return d.iface }

// State returns the last known state without probing the endpoint.
func (d *Driver) State() State { return State(d.state.Load()) }

// Open creates the endpoint, checks the interface flags, tries to bring a
// down interface up and binds. Open on a driver that still holds an endpoint
// returns ErrAlreadyOpen; use Reopen instead.
func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openLocked()
}

// Close releases the endpoint if held and leaves the driver closed. It is
// idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

// Reopen closes unconditionally and opens again.
func (d *Driver) Reopen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.closeLocked()
	return d.openLocked()
}

// IsLive checks the channel: the handle must still be valid and the
// interface administratively up. A failed check moves the driver to Faulted.
func (d *Driver) IsLive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked()
}

// Send writes one frame with the endpoint in blocking mode.
//
// A full send buffer returns ErrWouldBlock and keeps the channel live. Any
// other write error, or a short write, faults the channel.
func (d *Driver) Send(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.liveLocked() {
		d.logger.Debug("canbus send on channel that is not live")
		return ErrNotLive
	}
	if err := f.putWire(d.wbuf[:]); err != nil {
		return err
	}
	if err := d.ep.SetBlocking(true); err != nil {
		d.logger.Warn("canbus set blocking failed", "error", err)
	}
	n, err := d.ep.Write(d.wbuf[:])
	switch {
	case errors.Is(err, ErrWouldBlock):
		d.logger.Warn("canbus send buffer full", "id", f.ID)
		return ErrWouldBlock
	case err != nil:
		d.faultLocked("canbus send failed", err)
		return err
	case n != WireSize:
		err = fmt.Errorf("%w: wrote %d of %d bytes", ErrShortIO, n, WireSize)
		d.faultLocked("canbus partial send", err)
		return err
	}
	return nil
}

// ReceiveLatest drains the receive queue without blocking and returns only
// the most recently read frame. An empty queue returns ErrWouldBlock and the
// channel stays live.
func (d *Driver) ReceiveLatest() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var latest Frame
	found := false
	err := d.drainLocked(func(f Frame) {
		latest = f
		found = true
	})
	if err != nil {
		return Frame{}, err
	}
	if !found {
		return Frame{}, ErrWouldBlock
	}
	return latest, nil
}

// ReceiveAllUnique drains the receive queue without blocking and appends one
// frame per distinct content (identifier, flags, length and data) to dst, in
// first-seen order. Frames sharing an identifier but carrying different data
// are all kept. When nothing was queued dst is returned unchanged together
// with ErrWouldBlock.
func (d *Driver) ReceiveAllUnique(dst []Frame) ([]Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := len(dst)
	out := dst
	found := false
	err := d.drainLocked(func(f Frame) {
		found = true
		if !slices.Contains(out[start:], f) {
			out = append(out, f)
		}
	})
	if err != nil {
		return dst, err
	}
	if !found {
		return dst, ErrWouldBlock
	}
	return out, nil
}

// drainLocked reads frames in non-blocking mode until the queue is empty.
func (d *Driver) drainLocked(fn func(Frame)) error {
	if !d.liveLocked() {
		d.logger.Debug("canbus receive on channel that is not live")
		return ErrNotLive
	}
	if err := d.ep.SetBlocking(false); err != nil {
		d.faultLocked("canbus set non-blocking failed", err)
		return err
	}
	for {
		n, err := d.ep.Read(d.rbuf[:])
		switch {
		case errors.Is(err, ErrWouldBlock):
			return nil
		case err != nil:
			d.faultLocked("canbus receive failed", err)
			return err
		case n == 0:
			return nil
		case n != WireSize:
			err = fmt.Errorf("%w: read %d of %d bytes", ErrShortIO, n, WireSize)
			d.faultLocked("canbus partial receive", err)
			return err
		}
		var f Frame
		if err := f.readWire(d.rbuf[:]); err != nil {
			d.logger.Debug("canbus dropped malformed frame", "error", err)
			continue
		}
		fn(f)
	}
}

func (d *Driver) openLocked() error {
	if d.ep != nil {
		return ErrAlreadyOpen
	}
	ep, err := d.opener(d.iface)
	if err != nil {
		d.logger.Error("canbus could not create endpoint", "error", err)
		return err
	}
	up, err := ep.InterfaceUp()
	if err != nil {
		_ = ep.Close()
		d.logger.Error("canbus could not get interface flags", "error", err)
		return err
	}
	if !up {
		d.logger.Warn("canbus interface is down, bringing it up")
		if err := ep.SetInterfaceUp(); err != nil {
			d.logger.Error("canbus could not set interface up", "error", err)
		} else {
			d.logger.Info("canbus interface set up")
		}
	}
	if err := ep.Bind(); err != nil {
		_ = ep.Close()
		d.logger.Error("canbus could not bind", "error", err)
		return err
	}
	d.ep = ep
	d.state.Store(int32(StateOpen))
	d.logger.Info("canbus open")
	return nil
}

func (d *Driver) closeLocked() error {
	var err error
	if d.ep != nil {
		err = d.ep.Close()
		d.ep = nil
	}
	d.state.Store(int32(StateClosed))
	return err
}

func (d *Driver) liveLocked() bool {
	if d.State() != StateOpen || d.ep == nil {
		return false
	}
	if !d.ep.Valid() {
		d.faultLocked("canbus socket is not valid", nil)
		return false
	}
	up, err := d.ep.InterfaceUp()
	if err != nil {
		d.faultLocked("canbus could not get interface flags", err)
		return false
	}
	if !up {
		d.faultLocked("canbus interface is down", nil)
		return false
	}
	return true
}

func (d *Driver) faultLocked(msg string, err error) {
	d.state.Store(int32(StateFaulted))
	if err != nil {
		d.logger.Error(msg, "error", err)
	} else {
		d.logger.Error(msg)
	}
}
