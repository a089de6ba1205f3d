package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valid returns a config that passes Validate, built from the defaults plus
// the two fields the defaults leave for the deployment to decide.
func valid() *Config {
	cfg := Default()
	cfg.Reconcile.DriftTolerance = 0.5
	cfg.Risk.MaxOrderNotional = 50000
	return cfg
}

func TestDefaultRequiresDeploymentDecisions(t *testing.T) {
	t.Parallel()

	// The default config is deliberately incomplete: the drift tolerance
	// and the notional cap have no safe default.
	err := Default().Validate()
	assert.Error(t, err)

	assert.NoError(t, valid().Validate())
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing state file", func(c *Config) { c.Engine.StateFile = "" }},
		{"risk file equals state file", func(c *Config) { c.Engine.RiskFile = c.Engine.StateFile }},
		{"negative backup count", func(c *Config) { c.Engine.BackupCount = -1 }},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"bad exec time", func(c *Config) { c.Engine.ExecTime = "2:55pm" }},
		{"bad holiday", func(c *Config) { c.Engine.Holidays = []string{"June 3rd"} }},
		{"bad heartbeat interval", func(c *Config) { c.Engine.HeartbeatInterval = "often" }},
		{"zero tranche count", func(c *Config) { c.Tranches.Count = 0 }},
		{"zero lot size", func(c *Config) { c.Tranches.LotSize = 0 }},
		{"cash reserve too high", func(c *Config) { c.Tranches.CashReserve = 1 }},
		{"stop loss out of range", func(c *Config) { c.Guard.StopLoss = 1.5 }},
		{"zero trailing trigger", func(c *Config) { c.Guard.TrailingTrigger = 0 }},
		{"zero daily loss pct", func(c *Config) { c.Risk.MaxDailyLossPct = 0 }},
		{"zero trip halt limit", func(c *Config) { c.Risk.TripHaltLimit = 0 }},
		{"zero notional cap", func(c *Config) { c.Risk.MaxOrderNotional = 0 }},
		{"zero drift tolerance", func(c *Config) { c.Reconcile.DriftTolerance = 0 }},
		{"zero order timeout", func(c *Config) { c.Execution.OrderTimeout = "0s" }},
		{"negative max retries", func(c *Config) { c.Execution.MaxRetries = -1 }},
		{"bad notify timeout", func(c *Config) { c.Notify.Timeout = "soon" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	cfg := valid()
	hb, err := cfg.HeartbeatInterval()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, hb)

	ot, err := cfg.OrderTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, ot)

	pi, err := cfg.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, pi)

	rb, err := cfg.RetryBackoff()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, rb)
}

func TestSaveAndLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tranche.yaml")
	cfg := valid()
	cfg.Engine.Holidays = []string{"2025-10-01"}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveAndLoadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tranche.json")
	cfg := valid()
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tranche.yaml")
	require.NoError(t, Default().SaveToFile(path))

	_, err := LoadFromFile(path)
	assert.Error(t, err, "defaults alone must not validate")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: ["), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}
