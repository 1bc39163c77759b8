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

type sendFlags struct {
	iface    string
	interval time.Duration
	count    int
}

// NewSendCommand builds the command that periodically writes frames to one
// channel. Frames use cansend notation, e.g. 123#DEADBEEF.
func NewSendCommand(env Env, lf *logFlags) *cobra.Command {
	var f sendFlags
	sendCmd := &cobra.Command{
		Use:   "send FRAME...",
		Short: "Writes frames to a channel periodically",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frames := make([]canbridge.Frame, 0, len(args))
			for _, arg := range args {
				fr, err := canbridge.ParseFrame(arg)
				if err != nil {
					return err
				}
				frames = append(frames, fr)
			}
			if f.interval <= 0 {
				return errors.New("interval must be positive")
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
			return send(cmd.Context(), cmd.OutOrStdout(), d, frames, f, logger)
		},
	}

	fs := sendCmd.Flags()
	fs.StringVar(&f.iface, ifaceFlag, "can0", "CAN interface")
	fs.DurationVar(&f.interval, intervalFlag, 100*time.Millisecond, "time between rounds")
	fs.IntVar(&f.count, countFlag, 1, "number of rounds, 0 sends until interrupted")
	return sendCmd
}

// send writes every frame once per round. A full transmit buffer skips the
// frame; any other failure reopens the channel before the next round.
func send(ctx context.Context, out io.Writer, d *canbridge.Driver, frames []canbridge.Frame, f sendFlags, logger *slog.Logger) error {
	if err := d.Open(); err != nil {
		logger.Warn("open failed, retrying", "iface", d.Interface(), "error", err)
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	var sent, full, failed int
	for round := 0; f.count == 0 || round < f.count; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if !d.IsLive() {
			if err := d.Reopen(); err != nil {
				logger.Warn("reopen failed", "iface", d.Interface(), "error", err)
				failed += len(frames)
				continue
			}
		}
		for _, fr := range frames {
			err := d.Send(fr)
			switch {
			case err == nil:
				sent++
			case errors.Is(err, canbridge.ErrWouldBlock):
				full++
				logger.Warn("send buffer full", "iface", d.Interface(), "frame", fr.String())
			default:
				failed++
				logger.Error("send failed", "iface", d.Interface(), "frame", fr.String(), "error", err)
			}
		}
	}
	fmt.Fprintf(out, "%s: sent %d, buffer full %d, failed %d\n", d.Interface(), sent, full, failed)
	if failed > 0 {
		return fmt.Errorf("%d frames could not be sent", failed)
	}
	return nil
}
