package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/notnil/canbridge"
	"github.com/notnil/canbridge/internal/config"
	"github.com/notnil/canbridge/internal/cyclic"
	"github.com/notnil/canbridge/internal/rt"
	"github.com/notnil/canbridge/pdo"
)

// errNoHost is returned when run is asked to drive real hardware: the
// cyclic transport is provided by the embedding application.
var errNoHost = errors.New("no cyclic host transport is built in; use --sim or embed package pdo with your transport")

// appModule wires the bridge set, the host and the cyclic loop.
func appModule(cfg config.Config, logger *slog.Logger, opener canbridge.Opener) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.Provide(
			func() canbridge.Opener { return opener },
			provideSimulation,
			provideHost,
			provideBridgeSet,
			provideLoop,
		),
		fx.Invoke(runSimulation, runCycle),
	)
}

// simulation is the in-memory bus and host used by --sim. Both fields are
// nil when running against real interfaces.
type simulation struct {
	bus  *canbridge.SimBus
	host *pdo.MemoryHost
}

func provideSimulation(cfg config.Config) *simulation {
	if !cfg.Simulate {
		return &simulation{}
	}
	bus := canbridge.NewSimBus()
	for _, name := range cfg.Channels {
		bus.AddInterface(name, true)
	}
	return &simulation{bus: bus, host: pdo.NewMemoryHost()}
}

func provideHost(sim *simulation) (pdo.Host, error) {
	if sim.host == nil {
		return nil, errNoHost
	}
	return sim.host, nil
}

func provideBridgeSet(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger, opener canbridge.Opener, sim *simulation) (*pdo.BridgeSet, error) {
	if sim.bus != nil {
		opener = sim.bus.Open
	}
	if cfg.Bridge.Trace {
		opener = canbridge.NewLoggedOpener(opener, logger, slog.LevelDebug, canbridge.LogAll, nil)
	}
	filter, err := canbridge.ParseFilters(cfg.Filter)
	if err != nil {
		return nil, err
	}
	cmd, err := pdo.ParseCommand(cfg.Cycle.Command)
	if err != nil {
		return nil, err
	}
	set, err := pdo.New(pdo.Config{
		Channels: cfg.Channels,
		Command:  cmd,
		Logger:   logger,
		BridgeOptions: []canbridge.Option{
			canbridge.WithOpener(opener),
			canbridge.WithPeriod(cfg.Bridge.Period),
			canbridge.WithReopenBackoff(cfg.Bridge.Reopen.Initial, cfg.Bridge.Reopen.Max),
			canbridge.WithInboundFilter(filter),
		},
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return set.Close() },
	})
	return set, nil
}

func provideLoop(cfg config.Config, logger *slog.Logger) *cyclic.Loop {
	settings := rt.Settings{Priority: cfg.Realtime.Priority, LockMemory: cfg.Realtime.LockMemory}
	return &cyclic.Loop{
		Period:     cfg.Cycle.Period,
		Logger:     logger,
		LockThread: settings.Priority > 0 || settings.LockMemory,
		Setup: func() error {
			if settings == (rt.Settings{}) {
				return nil
			}
			return rt.Apply(settings)
		},
	}
}

// runCycle starts the cyclic exchange on start and stops it on stop.
//
// The host is resolved first so that a missing transport fails before any
// bridge is started.
func runCycle(lc fx.Lifecycle, sd fx.Shutdowner, host pdo.Host, loop *cyclic.Loop, set *pdo.BridgeSet, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				err := loop.Run(ctx, func(context.Context) error { return set.Update(host) })
				if err != nil {
					logger.Error("cyclic exchange stopped", "error", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			logger.Info("cyclic exchange started", "channels", set.Len(), "period", loop.Period)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			cycles, overruns := loop.Stats()
			logger.Info("cyclic exchange stopped", "cycles", cycles, "overruns", overruns,
				"dropped", set.Dropped(), "rejected", set.Rejected())
			return nil
		},
	})
}

// simPeerPeriod is how often the simulated peers talk.
const simPeerPeriod = 100 * time.Millisecond

// runSimulation drives the in-memory bus and host: every channel gets a
// heartbeat-like frame from a peer node and the host asks for one frame per
// channel. Frames the bridges put on the bus are logged at debug level.
func runSimulation(lc fx.Lifecycle, sim *simulation, cfg config.Config, logger *slog.Logger) {
	if sim.bus == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var cancels []func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, name := range cfg.Channels {
				name := name
				frames, stop := sim.bus.Watch(name, nil, 64)
				cancels = append(cancels, stop)
				go func() {
					for f := range frames {
						logger.Debug("sim peer received", "iface", name, "frame", f.String())
					}
				}()
			}
			go func() {
				defer close(done)
				simulatePeers(ctx, sim, cfg.Channels, logger)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			for _, stop := range cancels {
				stop()
			}
			return nil
		},
	})
}

func simulatePeers(ctx context.Context, sim *simulation, channels []string, logger *slog.Logger) {
	ticker := time.NewTicker(simPeerPeriod)
	defer ticker.Stop()
	var counter uint8
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		counter++
		var rec pdo.Record
		rec.Reset(pdo.CommandWorkMode)
		for ch, name := range channels {
			f := canbridge.MustFrame(0x100+uint32(ch), []byte{counter})
			if err := sim.bus.Inject(name, f); err != nil {
				logger.Warn("sim inject failed", "iface", name, "error", err)
			}
			rec.Add(pdo.Entry{Channel: uint8(ch), ID: 0x200 + uint16(ch), Len: 1, Data: [8]byte{counter}})
		}
		if err := sim.host.Push(&rec); err != nil {
			logger.Warn("sim host push failed", "error", err)
		}
		if last, err := sim.host.Last(); err == nil {
			logger.Debug("sim host record", "command", last.Command.String(), "frames", int(last.Count))
		}
	}
}
