package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, pre-validated configuration handed to the engine.
// The core never reads environment variables; everything it recognizes is
// enumerated here and checked by Validate before any component initializes.
type Config struct {
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Tranches  TrancheConfig   `json:"tranches" yaml:"tranches"`
	Guard     GuardConfig     `json:"guard" yaml:"guard"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
}

// EngineConfig contains paths, scheduling, and observability settings.
type EngineConfig struct {
	StateFile         string   `json:"state_file" yaml:"state_file"`
	RiskFile          string   `json:"risk_file" yaml:"risk_file"`
	JournalDB         string   `json:"journal_db" yaml:"journal_db"`
	BackupCount       int      `json:"backup_count" yaml:"backup_count"`
	Timezone          string   `json:"timezone" yaml:"timezone"`
	Holidays          []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	ExecTime          string   `json:"exec_time" yaml:"exec_time"` // "15:04:05" venue-local
	HeartbeatInterval string   `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	LogLevel          string   `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	MetricsAddr       string   `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// TrancheConfig fixes the capital partitioning for the deployment.
type TrancheConfig struct {
	Count       int     `json:"count" yaml:"count"`
	LotSize     float64 `json:"lot_size" yaml:"lot_size"`
	CashReserve float64 `json:"cash_reserve" yaml:"cash_reserve"`
}

// GuardConfig contains the stop-loss / trailing take-profit thresholds.
type GuardConfig struct {
	StopLoss        float64 `json:"stop_loss" yaml:"stop_loss"`
	TrailingTrigger float64 `json:"trailing_trigger" yaml:"trailing_trigger"`
	TrailingDrop    float64 `json:"trailing_drop" yaml:"trailing_drop"`
	ProtectionDays  int     `json:"protection_days" yaml:"protection_days"`
}

// RiskConfig contains the circuit-breaker thresholds. MaxOrderNotional has
// no default: the deployment must state it explicitly.
type RiskConfig struct {
	MaxDailyLossPct  float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	TripHaltLimit    int     `json:"trip_halt_limit" yaml:"trip_halt_limit"`
	MaxOrderNotional float64 `json:"max_order_notional" yaml:"max_order_notional"`
}

// ReconcileConfig contains the drift tolerance, in shares. Required; no
// silent default.
type ReconcileConfig struct {
	DriftTolerance float64 `json:"drift_tolerance" yaml:"drift_tolerance"`
}

// ExecutionConfig contains order verification timing.
type ExecutionConfig struct {
	OrderTimeout string `json:"order_timeout" yaml:"order_timeout"`
	PollInterval string `json:"poll_interval" yaml:"poll_interval"`
	MaxRetries   int    `json:"max_retries" yaml:"max_retries"`
	RetryBackoff string `json:"retry_backoff" yaml:"retry_backoff"`
}

// NotifyConfig points at the best-effort notification sink.
type NotifyConfig struct {
	WebhookURL string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Timeout    string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func parseDur(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

// HeartbeatInterval returns the parsed heartbeat interval.
func (c *Config) HeartbeatInterval() (time.Duration, error) {
	return parseDur("engine.heartbeat_interval", c.Engine.HeartbeatInterval)
}

// OrderTimeout returns the parsed order verification timeout.
func (c *Config) OrderTimeout() (time.Duration, error) {
	return parseDur("execution.order_timeout", c.Execution.OrderTimeout)
}

// PollInterval returns the parsed venue poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDur("execution.poll_interval", c.Execution.PollInterval)
}

// RetryBackoff returns the parsed base backoff between venue retries.
func (c *Config) RetryBackoff() (time.Duration, error) {
	return parseDur("execution.retry_backoff", c.Execution.RetryBackoff)
}

// Validate checks every recognized option. Required fields with no
// documented default (drift tolerance, order notional cap) fail loudly when
// absent.
func (c *Config) Validate() error {
	if c.Engine.StateFile == "" {
		return fmt.Errorf("engine.state_file is required")
	}
	if c.Engine.RiskFile == "" {
		return fmt.Errorf("engine.risk_file is required")
	}
	if c.Engine.RiskFile == c.Engine.StateFile {
		return fmt.Errorf("engine.risk_file must differ from engine.state_file")
	}
	if c.Engine.BackupCount < 0 {
		return fmt.Errorf("engine.backup_count must not be negative")
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	if _, err := time.Parse("15:04:05", c.Engine.ExecTime); err != nil {
		return fmt.Errorf("engine.exec_time must be HH:MM:SS: %w", err)
	}
	for _, h := range c.Engine.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("engine.holidays entry %q: %w", h, err)
		}
	}
	if _, err := c.HeartbeatInterval(); err != nil {
		return err
	}

	if c.Tranches.Count <= 0 {
		return fmt.Errorf("tranches.count must be positive")
	}
	if c.Tranches.LotSize <= 0 {
		return fmt.Errorf("tranches.lot_size must be positive")
	}
	if c.Tranches.CashReserve < 0 || c.Tranches.CashReserve >= 1 {
		return fmt.Errorf("tranches.cash_reserve must be in [0, 1)")
	}

	if c.Guard.StopLoss <= 0 || c.Guard.StopLoss >= 1 {
		return fmt.Errorf("guard.stop_loss must be in (0, 1)")
	}
	if c.Guard.TrailingTrigger <= 0 {
		return fmt.Errorf("guard.trailing_trigger must be positive")
	}
	if c.Guard.TrailingDrop <= 0 || c.Guard.TrailingDrop >= 1 {
		return fmt.Errorf("guard.trailing_drop must be in (0, 1)")
	}
	if c.Guard.ProtectionDays < 0 {
		return fmt.Errorf("guard.protection_days must not be negative")
	}

	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 1)")
	}
	if c.Risk.TripHaltLimit <= 0 {
		return fmt.Errorf("risk.trip_halt_limit must be positive")
	}
	if c.Risk.MaxOrderNotional <= 0 {
		return fmt.Errorf("risk.max_order_notional is required and must be positive")
	}

	if c.Reconcile.DriftTolerance <= 0 {
		return fmt.Errorf("reconcile.drift_tolerance is required and must be positive")
	}

	if _, err := c.OrderTimeout(); err != nil {
		return err
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must not be negative")
	}
	if _, err := c.RetryBackoff(); err != nil {
		return err
	}

	if c.Notify.Timeout != "" {
		if _, err := parseDur("notify.timeout", c.Notify.Timeout); err != nil {
			return err
		}
	}

	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if n := len(path); (n > 5 && path[n-5:] == ".yaml") || (n > 4 && path[n-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Default returns a configuration with the documented defaults filled in.
// Fields the deployment must decide (drift tolerance, order notional cap)
// are left zero so Validate rejects an unedited default config.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			StateFile:         "./state/ledger.json",
			RiskFile:          "./state/risk.json",
			JournalDB:         "./state/journal.db",
			BackupCount:       3,
			Timezone:          "Asia/Shanghai",
			ExecTime:          "14:55:00",
			HeartbeatInterval: "4h",
			LogLevel:          "info",
		},
		Tranches: TrancheConfig{
			Count:       10,
			LotSize:     100,
			CashReserve: 0.01,
		},
		Guard: GuardConfig{
			StopLoss:        0.20,
			TrailingTrigger: 0.15,
			TrailingDrop:    0.03,
			ProtectionDays:  0,
		},
		Risk: RiskConfig{
			MaxDailyLossPct: 0.04,
			TripHaltLimit:   3,
		},
		Execution: ExecutionConfig{
			OrderTimeout: "2m",
			PollInterval: "2s",
			MaxRetries:   3,
			RetryBackoff: "500ms",
		},
	}
}
