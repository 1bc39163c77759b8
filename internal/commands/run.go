package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notnil/canbridge/internal/config"
)

const (
	configFlag       = "config"
	channelsFlag     = "channels"
	simFlag          = "sim"
	filterFlag       = "filter"
	traceFlag        = "trace"
	bridgePeriodFlag = "bridge-period"
	cyclePeriodFlag  = "cycle-period"
	commandFlag      = "command"
	priorityFlag     = "priority"
	lockMemoryFlag   = "lock-memory"
	fxEventsFlag     = "fx-events"
)

// stopTimeout bounds how long run waits for the bridges to shut down.
const stopTimeout = 5 * time.Second

type runFlags struct {
	configPath   string
	channels     []string
	simulate     bool
	filter       string
	trace        bool
	bridgePeriod time.Duration
	cyclePeriod  time.Duration
	command      string
	priority     int
	lockMemory   bool
	fxEvents     bool
}

// NewRunCommand builds the command that runs the bridge set and the cyclic
// exchange until interrupted.
func NewRunCommand(env Env, lf *logFlags) (*cobra.Command, error) {
	var rf runFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one bridge per channel and the cyclic record exchange",
		Long: `Runs one bridge per configured channel and exchanges the process data
record with the cyclic host every cycle.

The fieldbus host is not built into this binary. Without --sim (or
simulate: true in the config file) run has no host to exchange records with
and exits with an error; --sim runs against simulated channels and peers.

Settings come from the YAML file given with --config (or built-in defaults)
and are overridden by flags that are set explicitly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.config(cmd, lf)
			if err != nil {
				return err
			}
			logger, err := logFlags{level: cfg.Log.Level, format: cfg.Log.Format}.loggerFor(cmd)
			if err != nil {
				return err
			}
			return runApp(cmd.Context(), cmd.ErrOrStderr(), rf.fxEvents, cfg, logger, env)
		},
	}

	fs := runCmd.Flags()
	fs.StringVar(&rf.configPath, configFlag, "", "path to a YAML configuration file")
	fs.StringSliceVar(&rf.channels, channelsFlag, nil, "comma separated CAN interfaces, indexed by the record channel byte")
	fs.BoolVar(&rf.simulate, simFlag, false, "run against an in-memory bus and host")
	fs.StringVar(&rf.filter, filterFlag, "", "inbound acceptance filter, e.g. 100:700,7E8:7FF or 100-1FF,std")
	fs.BoolVar(&rf.trace, traceFlag, false, "log every frame read or written at debug level")
	fs.DurationVar(&rf.bridgePeriod, bridgePeriodFlag, 0, "background loop period of each bridge")
	fs.DurationVar(&rf.cyclePeriod, cyclePeriodFlag, 0, "cyclic exchange period")
	fs.StringVar(&rf.command, commandFlag, "", "command byte of outbound records: loop-test, work, reset or feedback")
	fs.IntVar(&rf.priority, priorityFlag, 0, "SCHED_FIFO priority of the cyclic thread, 0 disables")
	fs.BoolVar(&rf.lockMemory, lockMemoryFlag, false, "lock process memory to avoid page faults")
	fs.BoolVar(&rf.fxEvents, fxEventsFlag, false, "log dependency injection events")

	return runCmd, nil
}

// config loads the file (or defaults) and applies explicitly set flags.
func (rf *runFlags) config(cmd *cobra.Command, lf *logFlags) (config.Config, error) {
	cfg := config.Default()
	if rf.configPath != "" {
		var err error
		if cfg, err = config.Load(rf.configPath); err != nil {
			return cfg, err
		}
	}

	fs := cmd.Flags()
	if fs.Changed(channelsFlag) {
		cfg.Channels = rf.channels
	}
	if fs.Changed(simFlag) {
		cfg.Simulate = rf.simulate
	}
	if fs.Changed(filterFlag) {
		cfg.Filter = rf.filter
	}
	if fs.Changed(traceFlag) {
		cfg.Bridge.Trace = rf.trace
	}
	if fs.Changed(bridgePeriodFlag) {
		cfg.Bridge.Period = rf.bridgePeriod
	}
	if fs.Changed(cyclePeriodFlag) {
		cfg.Cycle.Period = rf.cyclePeriod
	}
	if fs.Changed(commandFlag) {
		cfg.Cycle.Command = rf.command
	}
	if fs.Changed(priorityFlag) {
		cfg.Realtime.Priority = rf.priority
	}
	if fs.Changed(lockMemoryFlag) {
		cfg.Realtime.LockMemory = rf.lockMemory
	}
	if fs.Changed(logLevelFlag) {
		cfg.Log.Level = lf.level
	}
	if fs.Changed(logFormatFlag) {
		cfg.Log.Format = lf.format
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runApp starts the application graph and blocks until ctx is cancelled or
// the application shuts itself down.
func runApp(ctx context.Context, stderr io.Writer, fxEvents bool, cfg config.Config, logger *slog.Logger, env Env) error {
	app := fx.New(
		fx.WithLogger(func() fxevent.Logger { return newFxLogger(stderr, fxEvents) }),
		appModule(cfg, logger, env.opener()),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("could not build application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("could not start application: %w", err)
	}

	var exitCode int
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("could not stop application cleanly: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("application exited with code %d", exitCode)
	}
	return nil
}

func newFxLogger(w io.Writer, enabled bool) fxevent.Logger {
	if !enabled {
		return fxevent.NopLogger
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		zap.DebugLevel,
	)
	return &fxevent.ZapLogger{Logger: zap.New(core)}
}
