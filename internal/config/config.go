// Package config holds the canbridge process configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/notnil/canbridge"
	"github.com/notnil/canbridge/pdo"
)

// Config is the process configuration, loaded from YAML and overridden by
// command-line flags.
type Config struct {
	// Channels lists the CAN interfaces; the record channel byte indexes it.
	Channels []string `yaml:"channels"`
	// Filter is an inbound acceptance filter in candump notation.
	Filter   string   `yaml:"filter"`
	Bridge   Bridge   `yaml:"bridge"`
	Cycle    Cycle    `yaml:"cycle"`
	Realtime Realtime `yaml:"realtime"`
	Log      Log      `yaml:"log"`
	// Simulate runs against an in-memory bus and host.
	Simulate bool `yaml:"simulate"`
}

// Bridge configures the per-channel background loops.
type Bridge struct {
	Period time.Duration `yaml:"period"`
	Reopen Reopen        `yaml:"reopen"`
	// Trace logs every frame read or written at debug level.
	Trace bool `yaml:"trace"`
}

// Reopen bounds the exponential reopen backoff.
type Reopen struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Cycle configures the cyclic exchange.
type Cycle struct {
	Period  time.Duration `yaml:"period"`
	Command string        `yaml:"command"`
}

// Realtime configures scheduling of the cyclic goroutine's thread.
type Realtime struct {
	// Priority is the SCHED_FIFO priority; 0 keeps the default scheduler.
	Priority   int  `yaml:"priority"`
	LockMemory bool `yaml:"lock_memory"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultChannelCount is the number of channels created by Default.
const DefaultChannelCount = 4

// DefaultChannelPrefix prefixes the channel index in default interface names.
const DefaultChannelPrefix = "can"

// Default returns the configuration used when no file is given.
func Default() Config {
	channels := make([]string, DefaultChannelCount)
	for i := range channels {
		channels[i] = DefaultChannelPrefix + strconv.Itoa(i)
	}
	return Config{
		Channels: channels,
		Bridge: Bridge{
			Period: canbridge.DefaultPeriod,
			Reopen: Reopen{
				Initial: canbridge.DefaultReopenInitial,
				Max:     canbridge.DefaultReopenMax,
			},
		},
		Cycle: Cycle{
			Period:  time.Millisecond,
			Command: pdo.CommandWorkMode.String(),
		},
		Realtime: Realtime{Priority: 90},
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML data onto cfg.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration for values the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("config: at least one channel is required"))
	}
	if len(c.Channels) > 256 {
		errs = append(errs, fmt.Errorf("config: %d channels exceed the record channel byte", len(c.Channels)))
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, name := range c.Channels {
		if err := canbridge.ValidateInterfaceName(name); err != nil {
			errs = append(errs, fmt.Errorf("config: channel %q: %w", name, err))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("config: channel %q listed twice", name))
		}
		seen[name] = true
	}
	if _, err := canbridge.ParseFilters(c.Filter); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Bridge.Period <= 0 {
		errs = append(errs, errors.New("config: bridge.period must be positive"))
	}
	if c.Bridge.Reopen.Initial < 0 || c.Bridge.Reopen.Max < c.Bridge.Reopen.Initial {
		errs = append(errs, errors.New("config: bridge.reopen must satisfy 0 <= initial <= max"))
	}
	if c.Cycle.Period <= 0 {
		errs = append(errs, errors.New("config: cycle.period must be positive"))
	}
	if _, err := pdo.ParseCommand(c.Cycle.Command); err != nil {
		errs = append(errs, fmt.Errorf("config: cycle.command: %w", err))
	}
	if c.Realtime.Priority < 0 || c.Realtime.Priority > 99 {
		errs = append(errs, fmt.Errorf("config: realtime.priority %d outside 0..99", c.Realtime.Priority))
	}
	return multierr.Combine(errs...)
}
