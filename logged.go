package canbridge

import (
	"context"
	"errors"
	"log/slog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedOpener wraps an Opener so that every endpoint it creates logs the
// selected frame operations at the given level. If filter is non-nil only
// frames that satisfy it are logged; errors are always logged.
func NewLoggedOpener(inner Opener, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Opener {
	return func(iface string) (Endpoint, error) {
		ep, err := inner(iface)
		if err != nil {
			return nil, err
		}
		return &loggedEndpoint{
			Endpoint: ep,
			logger:   logger.With("iface", iface),
			level:    level,
			opts:     opts,
			filter:   filter,
		}, nil
	}
}

type loggedEndpoint struct {
	Endpoint
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

// Write logs the frame and the result when write logging is enabled.
func (l *loggedEndpoint) Write(p []byte) (int, error) {
	n, err := l.Endpoint.Write(p)
	if l.opts&LogWrite == 0 {
		return n, err
	}
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		l.logger.Log(context.Background(), slog.LevelError, "canbus send error", "error", err)
		return n, err
	}
	var f Frame
	if err == nil && f.UnmarshalBinary(p) == nil {
		l.log("canbus send", f)
	}
	return n, err
}

// Read logs the received frame or error when read logging is enabled.
func (l *loggedEndpoint) Read(p []byte) (int, error) {
	n, err := l.Endpoint.Read(p)
	if l.opts&LogRead == 0 {
		return n, err
	}
	switch {
	case errors.Is(err, ErrWouldBlock):
	case err != nil:
		l.logger.Log(context.Background(), slog.LevelError, "canbus receive error", "error", err)
	case n == WireSize:
		var f Frame
		if f.UnmarshalBinary(p) == nil {
			l.log("canbus receive", f)
		}
	}
	return n, err
}

func (l *loggedEndpoint) log(msg string, f Frame) {
	if l.filter != nil && !l.filter(f) {
		return
	}
	l.logger.Log(context.Background(), l.level, msg,
		"id", f.ID,
		"extended", f.Extended,
		"rtr", f.RTR,
		"len", int(f.Len),
		"data", f.Payload(),
		"string", f.String(),
	)
}
