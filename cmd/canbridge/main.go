package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notnil/canbridge/internal/commands"
)

const (
	errSetup        = 2
	errCommandError = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := commands.NewRootCommand(commands.Env{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errSetup)
	}
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(errCommandError)
	}
}
