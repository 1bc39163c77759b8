package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/notnil/canbridge"
)

const (
	ifaceFlag    = "iface"
	modeFlag     = "mode"
	intervalFlag = "interval"
	countFlag    = "count"
)

const (
	listenModeLatest = "latest"
	listenModeUnique = "unique"
)

type listenFlags struct {
	iface    string
	mode     string
	filter   string
	interval time.Duration
}

// NewListenCommand builds the command that prints frames received on one
// channel together with the time since the previous frame of the same
// identifier.
func NewListenCommand(env Env, lf *logFlags) *cobra.Command {
	var f listenFlags
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Prints frames received on a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.mode != listenModeLatest && f.mode != listenModeUnique {
				return fmt.Errorf("unknown mode %q: want %s or %s", f.mode, listenModeLatest, listenModeUnique)
			}
			if f.interval <= 0 {
				return errors.New("interval must be positive")
			}
			filter, err := canbridge.ParseFilters(f.filter)
			if err != nil {
				return err
			}
			logger, err := lf.loggerFor(cmd)
			if err != nil {
				return err
			}
			d, err := canbridge.NewDriver(f.iface, env.opener(), logger)
			if err != nil {
				return err
			}
			defer d.Close()
			return listen(cmd.Context(), cmd.OutOrStdout(), d, f, filter, logger)
		},
	}

	fs := listenCmd.Flags()
	fs.StringVar(&f.iface, ifaceFlag, "can0", "CAN interface")
	fs.StringVar(&f.mode, modeFlag, listenModeUnique, "receive mode: latest keeps one frame per poll, unique one per distinct frame")
	fs.StringVar(&f.filter, filterFlag, "", "acceptance filter, e.g. 100:700 or 200-2FF,data")
	fs.DurationVar(&f.interval, intervalFlag, time.Millisecond, "poll interval")
	return listenCmd
}

func listen(ctx context.Context, out io.Writer, d *canbridge.Driver, f listenFlags, filter canbridge.FrameFilter, logger *slog.Logger) error {
	if err := d.Open(); err != nil {
		logger.Warn("open failed, retrying", "iface", d.Interface(), "error", err)
	}

	lastSeen := make(map[uint32]time.Time)
	show := func(fr canbridge.Frame) {
		if filter != nil && !filter(fr) {
			return
		}
		now := time.Now()
		var since time.Duration
		if prev, ok := lastSeen[fr.ID]; ok {
			since = now.Sub(prev)
		}
		lastSeen[fr.ID] = now
		fmt.Fprintf(out, "%s  %s  +%s\n", d.Interface(), fr, since.Round(time.Microsecond))
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	var frames []canbridge.Frame
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !d.IsLive() {
			if err := d.Reopen(); err != nil {
				logger.Debug("reopen failed", "iface", d.Interface(), "error", err)
			}
			continue
		}

		var err error
		if f.mode == listenModeLatest {
			var fr canbridge.Frame
			if fr, err = d.ReceiveLatest(); err == nil {
				show(fr)
			}
		} else {
			if frames, err = d.ReceiveAllUnique(frames[:0]); err == nil {
				for _, fr := range frames {
					show(fr)
				}
			}
		}
		if err != nil && !errors.Is(err, canbridge.ErrWouldBlock) {
			logger.Warn("receive failed", "iface", d.Interface(), "error", err)
		}
	}
}
