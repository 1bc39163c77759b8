package canbridge

import (
	"errors"
	"sync"
)

// SimBus is an in-memory set of CAN interfaces for tests and simulations.
//
// Each named interface behaves like a vcan device: frames written by one
// bound endpoint are delivered to every other endpoint bound to the same
// interface and to all watchers. The link can be taken down, removed, or made
// to misbehave (short I/O, full transmit queue, stuck blocking mode) to
// exercise fault handling.
//
// SimBus endpoints never block: a read on an empty queue reports
// ErrWouldBlock even in blocking mode.
type SimBus struct {
	mu     sync.Mutex
	ifaces map[string]*simIface
}

// ErrSimLinkDown is returned by simulated I/O on an interface that is down.
var ErrSimLinkDown = errors.New("canbridge: simulated link is down")

// ErrSimPermission is returned by SetInterfaceUp when RefuseLinkUp is set and
// by SetBlocking(false) when FailNonblocking is set.
var ErrSimPermission = errors.New("canbridge: simulated operation not permitted")

const simRxQueueLen = 256

type simIface struct {
	up        bool
	refuseUp  bool
	shortIO   bool
	txFull    bool
	noNonblk  bool
	calls     uint64
	endpoints map[*simEndpoint]struct{}
	watchers  map[uint64]*simWatcher
	nextWatch uint64
}

type simWatcher struct {
	filter FrameFilter
	ch     chan Frame
}

// NewSimBus creates an empty simulated bus.
func NewSimBus() *SimBus {
	return &SimBus{ifaces: make(map[string]*simIface)}
}

// AddInterface creates a virtual interface. Adding an existing name only
// updates its link state.
func (b *SimBus) AddInterface(name string, up bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ifc, ok := b.ifaces[name]; ok {
		ifc.up = up
		return
	}
	b.ifaces[name] = &simIface{
		up:        up,
		endpoints: make(map[*simEndpoint]struct{}),
		watchers:  make(map[uint64]*simWatcher),
	}
}

// RemoveInterface deletes the interface. Bound endpoints become invalid and
// watchers are closed.
func (b *SimBus) RemoveInterface(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ifc, ok := b.ifaces[name]
	if !ok {
		return
	}
	for ep := range ifc.endpoints {
		ep.iface = nil
	}
	for id, w := range ifc.watchers {
		close(w.ch)
		delete(ifc.watchers, id)
	}
	delete(b.ifaces, name)
}

// SetLinkUp sets the administrative state of the interface.
func (b *SimBus) SetLinkUp(name string, up bool) {
	b.update(name, func(ifc *simIface) { ifc.up = up })
}

// RefuseLinkUp makes SetInterfaceUp fail, as it does without CAP_NET_ADMIN.
func (b *SimBus) RefuseLinkUp(name string, refuse bool) {
	b.update(name, func(ifc *simIface) { ifc.refuseUp = refuse })
}

// InjectShortIO makes every read and write on the interface move fewer bytes
// than a frame.
func (b *SimBus) InjectShortIO(name string, on bool) {
	b.update(name, func(ifc *simIface) { ifc.shortIO = on })
}

// SetTxFull makes writes on the interface report a full send buffer.
func (b *SimBus) SetTxFull(name string, full bool) {
	b.update(name, func(ifc *simIface) { ifc.txFull = full })
}

// FailNonblocking makes switching an endpoint to non-blocking mode fail.
func (b *SimBus) FailNonblocking(name string, on bool) {
	b.update(name, func(ifc *simIface) { ifc.noNonblk = on })
}

// Calls returns the number of endpoint operations performed against the
// interface (flag queries, binds, reads, writes).
func (b *SimBus) Calls(name string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ifc, ok := b.ifaces[name]; ok {
		return ifc.calls
	}
	return 0
}

// Endpoints returns the number of endpoints currently bound to the interface.
func (b *SimBus) Endpoints(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ifc, ok := b.ifaces[name]; ok {
		return len(ifc.endpoints)
	}
	return 0
}

// Inject delivers a frame to every endpoint bound to the interface, as if a
// peer node had sent it.
func (b *SimBus) Inject(name string, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ifc, ok := b.ifaces[name]
	if !ok {
		return ErrNoInterface
	}
	b.deliverLocked(ifc, nil, f)
	return nil
}

// Watch subscribes to frames written on the interface by bound endpoints.
// Frames are dropped when the channel buffer is full. The cancel function
// closes the channel.
func (b *SimBus) Watch(name string, filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	w := &simWatcher{filter: filter, ch: make(chan Frame, buffer)}
	b.mu.Lock()
	ifc, ok := b.ifaces[name]
	if !ok {
		b.mu.Unlock()
		close(w.ch)
		return w.ch, func() {}
	}
	id := ifc.nextWatch
	ifc.nextWatch++
	ifc.watchers[id] = w
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := ifc.watchers[id]; ok && cur == w {
			close(cur.ch)
			delete(ifc.watchers, id)
		}
	}
	return w.ch, cancel
}

// Open creates an unbound endpoint. It satisfies Opener.
func (b *SimBus) Open(name string) (Endpoint, error) {
	if err := ValidateInterfaceName(name); err != nil {
		return nil, err
	}
	return &simEndpoint{bus: b, name: name}, nil
}

func (b *SimBus) update(name string, fn func(*simIface)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ifc, ok := b.ifaces[name]; ok {
		fn(ifc)
	}
}

func (b *SimBus) deliverLocked(ifc *simIface, from *simEndpoint, f Frame) {
	for ep := range ifc.endpoints {
		if ep == from || len(ep.rx) >= simRxQueueLen {
			continue
		}
		ep.rx = append(ep.rx, f)
	}
	if from == nil {
		return
	}
	for _, w := range ifc.watchers {
		if w.filter == nil || w.filter(f) {
			select {
			case w.ch <- f:
			default:
			}
		}
	}
}

// simEndpoint state is guarded by the owning SimBus mutex.
type simEndpoint struct {
	bus      *SimBus
	name     string
	iface    *simIface
	bound    bool
	closed   bool
	blocking bool
	rx       []Frame
}

// lookupLocked returns the interface the endpoint refers to and counts the call.
func (e *simEndpoint) lookupLocked() (*simIface, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.bound {
		if e.iface == nil {
			return nil, ErrNoInterface
		}
		e.iface.calls++
		return e.iface, nil
	}
	ifc, ok := e.bus.ifaces[e.name]
	if !ok {
		return nil, ErrNoInterface
	}
	ifc.calls++
	return ifc, nil
}

func (e *simEndpoint) InterfaceUp() (bool, error) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ifc, err := e.lookupLocked()
	if err != nil {
		return false, err
	}
	return ifc.up, nil
}

func (e *simEndpoint) SetInterfaceUp() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ifc, err := e.lookupLocked()
	if err != nil {
		return err
	}
	if ifc.refuseUp {
		return ErrSimPermission
	}
	ifc.up = true
	return nil
}

func (e *simEndpoint) Bind() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ifc, err := e.lookupLocked()
	if err != nil {
		return err
	}
	e.iface = ifc
	e.bound = true
	ifc.endpoints[e] = struct{}{}
	return nil
}

func (e *simEndpoint) SetBlocking(blocking bool) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !blocking && e.iface != nil && e.iface.noNonblk {
		return ErrSimPermission
	}
	e.blocking = blocking
	return nil
}

func (e *simEndpoint) Write(p []byte) (int, error) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ifc, err := e.boundLocked()
	if err != nil {
		return 0, err
	}
	switch {
	case !ifc.up:
		return 0, ErrSimLinkDown
	case ifc.txFull:
		return 0, ErrWouldBlock
	case ifc.shortIO:
		return WireSize / 2, nil
	}
	var f Frame
	if err := f.UnmarshalBinary(p); err != nil {
		return 0, err
	}
	e.bus.deliverLocked(ifc, e, f)
	return WireSize, nil
}

func (e *simEndpoint) Read(p []byte) (int, error) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ifc, err := e.boundLocked()
	if err != nil {
		return 0, err
	}
	if !ifc.up {
		return 0, ErrSimLinkDown
	}
	if len(e.rx) == 0 {
		return 0, ErrWouldBlock
	}
	f := e.rx[0]
	e.rx = e.rx[1:]
	if err := f.putWire(p); err != nil {
		return 0, err
	}
	if ifc.shortIO {
		return WireSize / 2, nil
	}
	return WireSize, nil
}

func (e *simEndpoint) boundLocked() (*simIface, error) {
	if !e.bound {
		return nil, errors.New("canbridge: endpoint not bound")
	}
	return e.lookupLocked()
}

func (e *simEndpoint) Valid() bool {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	return !e.closed && (!e.bound || e.iface != nil)
}

func (e *simEndpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.iface != nil {
		delete(e.iface.endpoints, e)
	}
	e.rx = nil
	return nil
}
