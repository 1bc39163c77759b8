package canbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Defaults for NewBridge.
const (
	DefaultPeriod        = time.Millisecond
	DefaultReopenInitial = 10 * time.Millisecond
	DefaultReopenMax     = time.Second
)

// Bridge connects one channel to a cyclic caller through latest-value
// mailboxes.
//
// The cyclic side calls WriteOutbound and ReadInbound; both touch mailboxes
// only and never wait on bus I/O. A background goroutine owns the Driver: it
// drains the bus into inbound mailboxes, drains fresh outbound mailboxes onto
// the bus, and reopens the channel when it is not live.
type Bridge struct {
	driver   *Driver
	inbound  *MailboxSet
	outbound *MailboxSet

	logger *slog.Logger
	clock  clock.Clock
	period time.Duration
	filter FrameFilter

	// loop-owned
	backoff    *backoff.ExponentialBackOff
	nextReopen time.Time
	rxScratch  []Frame
	warnReopen rate.Sometimes
	warnSend   rate.Sometimes

	iterations     atomic.Uint64
	received       atomic.Uint64
	sent           atomic.Uint64
	sendFailures   atomic.Uint64
	reopens        atomic.Uint64
	reopenFailures atomic.Uint64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Bridge.
type Option func(*bridgeOptions)

type bridgeOptions struct {
	opener        Opener
	logger        *slog.Logger
	clock         clock.Clock
	period        time.Duration
	reopenInitial time.Duration
	reopenMax     time.Duration
	filter        FrameFilter
}

// WithOpener selects how endpoints are created (default SocketCAN).
func WithOpener(o Opener) Option { return func(b *bridgeOptions) { b.opener = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *bridgeOptions) { b.logger = l } }

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option { return func(b *bridgeOptions) { b.clock = c } }

// WithPeriod bounds the background loop rate.
func WithPeriod(d time.Duration) Option { return func(b *bridgeOptions) { b.period = d } }

// WithReopenBackoff sets the pacing of reopen attempts after a failed reopen.
func WithReopenBackoff(initial, max time.Duration) Option {
	return func(b *bridgeOptions) {
		b.reopenInitial = initial
		b.reopenMax = max
	}
}

// WithInboundFilter drops received frames the filter rejects before they
// reach (or create) an inbound mailbox.
func WithInboundFilter(f FrameFilter) Option { return func(b *bridgeOptions) { b.filter = f } }

// NewBridge builds a driver for iface, opens it and starts the background
// loop. A failed initial open is logged and retried by the loop; only an
// invalid interface name is returned as an error.
func NewBridge(iface string, opts ...Option) (*Bridge, error) {
	o := bridgeOptions{
		opener:        SocketCAN,
		logger:        slog.Default(),
		clock:         clock.New(),
		period:        DefaultPeriod,
		reopenInitial: DefaultReopenInitial,
		reopenMax:     DefaultReopenMax,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.period <= 0 {
		o.period = DefaultPeriod
	}

	driver, err := NewDriver(iface, o.opener, o.logger)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		driver:   driver,
		inbound:  NewMailboxSet(),
		outbound: NewMailboxSet(),
		logger:   o.logger.With("iface", iface),
		clock:    o.clock,
		period:   o.period,
		filter:   o.filter,
		backoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(o.reopenInitial),
			backoff.WithMaxInterval(o.reopenMax),
			backoff.WithMaxElapsedTime(0),
		),
		warnReopen: rate.Sometimes{Interval: time.Second},
		warnSend:   rate.Sometimes{Interval: time.Second},
		done:       make(chan struct{}),
	}
	if err := driver.Open(); err != nil {
		b.logger.Warn("bridge initial open failed, retrying in background", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(ctx)
	return b, nil
}

// Interface returns the channel's interface name.
func (b *Bridge) Interface() string { return b.driver.Interface() }

// Live reports the channel state last observed by the background loop.
func (b *Bridge) Live() bool { return b.driver.State() == StateOpen }

// WriteOutbound stores f as the latest frame for its identifier, keyed by
// Frame.Key. It returns an error only for a frame that could never be sent.
func (b *Bridge) WriteOutbound(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	b.outbound.Get(f.Key()).Write(f)
	return nil
}

// ReadInbound appends to dst the latest unread frame of every identifier
// received since the previous call and returns the extended slice. Each
// identifier contributes at most one frame; standard, extended and remote
// frames of the same number are separate identifiers.
func (b *Bridge) ReadInbound(dst []Frame) []Frame {
	for _, m := range *b.inbound.order.Load() {
		if f, ok := m.ReadIfFresh(); ok {
			dst = append(dst, f)
		}
	}
	return dst
}

// Close stops the background loop, waits for it to exit and closes the
// driver. A bus call in progress delays Close by at most one iteration.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
		b.closeErr = b.driver.Close()
		b.logger.Debug("bridge closed")
	})
	return b.closeErr
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	ticker := b.clock.Ticker(b.period)
	defer ticker.Stop()
	for {
		b.step()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step performs one loop iteration.
func (b *Bridge) step() {
	b.iterations.Add(1)
	if !b.driver.IsLive() {
		b.reopen()
		return
	}

	rx, err := b.driver.ReceiveAllUnique(b.rxScratch[:0])
	if err == nil {
		for _, f := range rx {
			if b.filter != nil && !b.filter(f) {
				continue
			}
			b.inbound.Get(f.Key()).Write(f)
			b.received.Add(1)
		}
	}
	b.rxScratch = rx[:0]

	for _, m := range *b.outbound.order.Load() {
		f, ok := m.ReadIfFresh()
		if !ok {
			continue
		}
		err := b.driver.Send(f)
		if err == nil {
			b.sent.Add(1)
			continue
		}
		b.sendFailures.Add(1)
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		b.warnSend.Do(func() {
			b.logger.Error("bridge send failed", "id", f.ID, "error", err)
		})
		b.reopen()
		return
	}
}

// reopen attempts a reopen unless a previous failure scheduled a later try.
func (b *Bridge) reopen() {
	now := b.clock.Now()
	if now.Before(b.nextReopen) {
		return
	}
	b.reopens.Add(1)
	if err := b.driver.Reopen(); err != nil {
		b.reopenFailures.Add(1)
		wait := b.backoff.NextBackOff()
		b.nextReopen = now.Add(wait)
		b.warnReopen.Do(func() {
			b.logger.Warn("bridge reopen failed", "error", err, "retry_in", wait)
		})
		return
	}
	b.backoff.Reset()
	b.nextReopen = time.Time{}
	b.logger.Info("bridge channel reopened")
}

// BridgeStats is a snapshot of a bridge's counters.
type BridgeStats struct {
	Interface      string
	State          State
	Iterations     uint64
	Received       uint64
	Sent           uint64
	SendFailures   uint64
	Reopens        uint64
	ReopenFailures uint64
	Inbound        []MailboxStats
	Outbound       []MailboxStats
}

// Stats returns the bridge counters. It allocates and is meant for
// diagnostics, not for the cyclic path.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Interface:      b.driver.Interface(),
		State:          b.driver.State(),
		Iterations:     b.iterations.Load(),
		Received:       b.received.Load(),
		Sent:           b.sent.Load(),
		SendFailures:   b.sendFailures.Load(),
		Reopens:        b.reopens.Load(),
		ReopenFailures: b.reopenFailures.Load(),
		Inbound:        b.inbound.Stats(),
		Outbound:       b.outbound.Stats(),
	}
}
