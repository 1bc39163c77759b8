package pdo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/notnil/canbridge"
)

// Config describes a BridgeSet.
type Config struct {
	// Channels lists interface names; the record channel field indexes it.
	Channels []string
	// Command is written into every outbound record.
	Command Command
	Logger  *slog.Logger
	// BridgeOptions are applied to every bridge.
	BridgeOptions []canbridge.Option
}

// BridgeSet owns one Bridge per channel and copies frames between the cyclic
// record and the bridges' mailboxes.
//
// Dispatch, Collect and Update must be called from a single goroutine (the
// cyclic caller). They do not allocate once the set is warmed up.
type BridgeSet struct {
	bridges []*canbridge.Bridge
	command Command
	logger  *slog.Logger

	in, out Record
	scratch []canbridge.Frame

	lastCommand atomic.Uint32
	dropped     atomic.Uint64
	rejected    atomic.Uint64

	warnCap      rate.Sometimes
	warnChannel  rate.Sometimes
	warnRecord rate.Sometimes
	warnInvalid  rate.Sometimes

	closeOnce sync.Once
	closeErr  error
}

// New builds and starts a bridge per channel. If any bridge cannot be built,
// the ones already started are closed and the combined error is returned.
func New(cfg Config) (*BridgeSet, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("pdo: no channels")
	}
	if len(cfg.Channels) > 256 {
		return nil, fmt.Errorf("pdo: %d channels do not fit the channel byte", len(cfg.Channels))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := append([]canbridge.Option{canbridge.WithLogger(logger)}, cfg.BridgeOptions...)

	bridges := make([]*canbridge.Bridge, 0, len(cfg.Channels))
	for _, name := range cfg.Channels {
		b, err := canbridge.NewBridge(name, opts...)
		if err != nil {
			for _, built := range bridges {
				err = multierr.Append(err, built.Close())
			}
			return nil, fmt.Errorf("pdo: channel %q: %w", name, err)
		}
		bridges = append(bridges, b)
	}
	return NewFromBridges(bridges, cfg.Command, logger), nil
}

// NewFromBridges wraps already running bridges. The set takes ownership and
// closes them on Close.
func NewFromBridges(bridges []*canbridge.Bridge, cmd Command, logger *slog.Logger) *BridgeSet {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BridgeSet{
		bridges:      bridges,
		command:      cmd,
		logger:       logger,
		scratch:      make([]canbridge.Frame, 0, 64),
		warnCap:      rate.Sometimes{Interval: time.Second},
		warnChannel:  rate.Sometimes{Interval: time.Second},
		warnRecord: rate.Sometimes{Interval: time.Second},
		warnInvalid:  rate.Sometimes{Interval: time.Second},
	}
	s.lastCommand.Store(uint32(CommandWorkMode))
	return s
}

// Len returns the number of channels.
func (s *BridgeSet) Len() int { return len(s.bridges) }

// Bridge returns the bridge for a channel index.
func (s *BridgeSet) Bridge(channel int) *canbridge.Bridge { return s.bridges[channel] }

// LastCommand returns the command byte of the last dispatched record.
func (s *BridgeSet) LastCommand() Command { return Command(s.lastCommand.Load()) }

// Dropped returns how many received frames did not fit a record.
func (s *BridgeSet) Dropped() uint64 { return s.dropped.Load() }

// Rejected returns how many record entries could not be forwarded (unknown
// channel, invalid length) or bus frames could not be recorded (extended
// identifier, remote request).
func (s *BridgeSet) Rejected() uint64 { return s.rejected.Load() }

// Dispatch writes every entry of rec into its channel's outbound mailbox.
// Entries beyond MaxEntries are ignored with a warning.
func (s *BridgeSet) Dispatch(rec *Record) {
	s.lastCommand.Store(uint32(rec.Command))
	if int(rec.Count) > MaxEntries {
		s.warnCap.Do(func() {
			s.logger.Warn("pdo record frame count exceeds capacity", "count", int(rec.Count), "max", MaxEntries)
		})
	}
	for _, e := range rec.Valid() {
		if int(e.Channel) >= len(s.bridges) {
			s.rejected.Add(1)
			s.warnChannel.Do(func() {
				s.logger.Error("pdo invalid channel", "channel", int(e.Channel), "channels", len(s.bridges))
			})
			continue
		}
		if err := s.bridges[e.Channel].WriteOutbound(e.Frame()); err != nil {
			s.rejected.Add(1)
			s.warnInvalid.Do(func() {
				s.logger.Error("pdo invalid entry", "channel", int(e.Channel), "id", e.ID, "error", err)
			})
		}
	}
}

// Collect resets rec and fills it with the latest unread frames of every
// channel, in channel order. Frames beyond MaxEntries are dropped with a
// warning.
func (s *BridgeSet) Collect(rec *Record) {
	rec.Reset(s.command)
	for ch, b := range s.bridges {
		s.scratch = b.ReadInbound(s.scratch[:0])
		for _, f := range s.scratch {
			e, err := EntryFromFrame(uint8(ch), f)
			if err != nil {
				s.rejected.Add(1)
				s.warnRecord.Do(func() {
					s.logger.Warn("pdo frame cannot be recorded", "channel", ch, "id", f.ID, "error", err)
				})
				continue
			}
			if !rec.Add(e) {
				s.dropped.Add(1)
				s.warnCap.Do(func() {
					s.logger.Warn("pdo record full, frames dropped", "max", MaxEntries)
				})
			}
		}
	}
}

// Update performs one cyclic exchange: read the host record, dispatch it,
// collect inbound frames and write the result back.
func (s *BridgeSet) Update(host Host) error {
	if err := host.ReadRecord(&s.in); err != nil {
		return fmt.Errorf("pdo: read record: %w", err)
	}
	s.Dispatch(&s.in)
	s.Collect(&s.out)
	if err := host.WriteRecord(&s.out); err != nil {
		return fmt.Errorf("pdo: write record: %w", err)
	}
	return nil
}

// Stats returns the counters of every bridge in channel order.
func (s *BridgeSet) Stats() []canbridge.BridgeStats {
	out := make([]canbridge.BridgeStats, len(s.bridges))
	for i, b := range s.bridges {
		out[i] = b.Stats()
	}
	return out
}

// Close stops all bridges in parallel and returns their combined errors.
func (s *BridgeSet) Close() error {
	s.closeOnce.Do(func() {
		var (
			g   errgroup.Group
			mu  sync.Mutex
			err error
		)
		for _, b := range s.bridges {
			b := b
			g.Go(func() error {
				cerr := b.Close()
				mu.Lock()
				err = multierr.Append(err, cerr)
				mu.Unlock()
				return cerr
			})
		}
		_ = g.Wait()
		s.closeErr = err
	})
	return s.closeErr
}
