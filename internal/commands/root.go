// Package commands implements the canbridge command line.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/notnil/canbridge"
	"github.com/notnil/canbridge/internal/logging"
)

const (
	logLevelFlag  = "log-level"
	logFormatFlag = "log-format"
)

// Env holds process-wide dependencies shared by all commands.
type Env struct {
	// Opener creates channel endpoints. Nil selects SocketCAN.
	Opener canbridge.Opener
}

func (e Env) opener() canbridge.Opener {
	if e.Opener == nil {
		return canbridge.SocketCAN
	}
	return e.Opener
}

type logFlags struct {
	level  string
	format string
}

func (l *logFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&l.level, logLevelFlag, "info", "log level: debug, info, warn or error")
	fs.StringVar(&l.format, logFormatFlag, "text", "log format: text or json")
}

// logger builds the command logger. Logs go to the command's error stream so
// frame output on stdout stays machine readable.
func (l logFlags) loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), l.level, l.format)
}

// NewRootCommand builds the canbridge command tree.
func NewRootCommand(env Env) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "canbridge",
		Short: "Bridges CAN channels to a cyclic process data record",
		Long: `canbridge connects CAN interfaces to a cyclic fieldbus exchange.

	Every channel gets a background loop that keeps the latest frame of each
	identifier in a mailbox, so the cyclic side never waits on the bus.
	listen and send talk to a single channel directly for diagnostics.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	var lf logFlags
	lf.register(rootCmd.PersistentFlags())

	runCmd, err := NewRunCommand(env, &lf)
	if err != nil {
		return nil, fmt.Errorf("could not set up 'run' command: %w", err)
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(NewListenCommand(env, &lf))
	rootCmd.AddCommand(NewSendCommand(env, &lf))

	return rootCmd, nil
}
