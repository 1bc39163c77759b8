package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canbridge"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"can0", "can1", "can2", "can3"}, cfg.Channels)
	assert.Equal(t, canbridge.DefaultPeriod, cfg.Bridge.Period)
	assert.Equal(t, "work", cfg.Cycle.Command)
	assert.False(t, cfg.Simulate)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canbridge.yaml")
	data := `
channels: [vcan0, vcan1]
filter: "100:700"
bridge:
  period: 2ms
  reopen:
    initial: 50ms
    max: 2s
  trace: true
cycle:
  period: 4ms
  command: feedback
realtime:
  priority: 0
  lock_memory: true
log:
  level: debug
  format: json
simulate: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Config{
		Channels: []string{"vcan0", "vcan1"},
		Filter:   "100:700",
		Bridge: Bridge{
			Period: 2 * time.Millisecond,
			Reopen: Reopen{Initial: 50 * time.Millisecond, Max: 2 * time.Second},
			Trace:  true,
		},
		Cycle:    Cycle{Period: 4 * time.Millisecond, Command: "feedback"},
		Realtime: Realtime{Priority: 0, LockMemory: true},
		Log:      Log{Level: "debug", Format: "json"},
		Simulate: true,
	}, cfg)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cycle:\n  period: 10ms\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	want := Default()
	want.Cycle.Period = 10 * time.Millisecond
	assert.Equal(t, want, cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chanels: [can0]\n"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "chanels")
}

func TestDecode_Empty(t *testing.T) {
	cfg := Default()
	require.NoError(t, Decode(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Channels = []string{"can0", "can0", "averyveryverylongname"}
	cfg.Filter = "nope"
	cfg.Bridge.Period = 0
	cfg.Bridge.Reopen = Reopen{Initial: time.Second, Max: time.Millisecond}
	cfg.Cycle.Period = -1
	cfg.Cycle.Command = "dance"
	cfg.Realtime.Priority = 120

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"listed twice",
		"name too long",
		"filter",
		"bridge.period",
		"bridge.reopen",
		"cycle.period",
		"cycle.command",
		"realtime.priority",
	} {
		assert.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.Channels = nil
	assert.ErrorContains(t, cfg.Validate(), "at least one channel")
}
