package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log          LoggingConfig      `yaml:"log"`
	Trading      TradingConfig      `yaml:"trading"`
	Retry        RetryConfig        `yaml:"retry"`
	Verify       VerifyConfig       `yaml:"verify"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Lighter      LighterConfig      `yaml:"lighter"`
	Pacifica     PacificaConfig     `yaml:"pacifica"`
	State        StateConfig        `yaml:"state"`
	Timescale    TimescaleConfig    `yaml:"timescale"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Telegram     TelegramConfig     `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TradingConfig struct {
	AccountBalance     float64            `yaml:"account_balance"`
	MinPositionPercent float64            `yaml:"min_position_percent"`
	MaxPositionPercent float64            `yaml:"max_position_percent"`
	MinHold            time.Duration      `yaml:"min_hold"`
	MaxHold            time.Duration      `yaml:"max_hold"`
	MinCycleWait       time.Duration      `yaml:"min_cycle_wait"`
	MaxCycleWait       time.Duration      `yaml:"max_cycle_wait"`
	Pairs              []string           `yaml:"pairs"`
	Leverage           map[string]float64 `yaml:"leverage"`
	Slippage           float64            `yaml:"slippage"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

type VerifyConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Attempts      int           `yaml:"attempts"`
	Timeout       time.Duration `yaml:"timeout"`
	SizeTolerance float64       `yaml:"size_tolerance"`
}

type OrchestratorConfig struct {
	MaxCycleRestarts int           `yaml:"max_cycle_restarts"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	CloseOnStart     bool          `yaml:"close_on_start"`
}

type LighterConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	AccountIndex int           `yaml:"account_index"`
	APIKeyIndex  int           `yaml:"api_key_index"`
}

type PacificaConfig struct {
	BaseURL string        `yaml:"base_url"`
	WSURL   string        `yaml:"ws_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Token                string        `yaml:"token"`
	ChatID               string        `yaml:"chat_id"`
	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUsers []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Trading.AccountBalance == 0 {
		cfg.Trading.AccountBalance = 500
	}
	if cfg.Trading.MinPositionPercent == 0 {
		cfg.Trading.MinPositionPercent = 50
	}
	if cfg.Trading.MaxPositionPercent == 0 {
		cfg.Trading.MaxPositionPercent = 80
	}
	if cfg.Trading.MinHold == 0 {
		cfg.Trading.MinHold = 2 * time.Minute
	}
	if cfg.Trading.MaxHold == 0 {
		cfg.Trading.MaxHold = 5 * time.Minute
	}
	if cfg.Trading.MinCycleWait == 0 {
		cfg.Trading.MinCycleWait = 30 * time.Second
	}
	if cfg.Trading.MaxCycleWait == 0 {
		cfg.Trading.MaxCycleWait = 120 * time.Second
	}
	if len(cfg.Trading.Pairs) == 0 {
		cfg.Trading.Pairs = []string{"BTC", "ETH", "SOL"}
	}
	if cfg.Trading.Leverage == nil {
		cfg.Trading.Leverage = map[string]float64{}
	}
	for _, pair := range cfg.Trading.Pairs {
		if _, ok := cfg.Trading.Leverage[pair]; !ok {
			cfg.Trading.Leverage[pair] = 5
		}
	}
	if cfg.Trading.Slippage == 0 {
		cfg.Trading.Slippage = 0.01
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Verify.Interval == 0 {
		cfg.Verify.Interval = 5 * time.Second
	}
	if cfg.Verify.Attempts == 0 {
		cfg.Verify.Attempts = 3
	}
	if cfg.Verify.Timeout == 0 {
		cfg.Verify.Timeout = time.Minute
	}
	if cfg.Verify.SizeTolerance == 0 {
		cfg.Verify.SizeTolerance = 0.02
	}
	if cfg.Orchestrator.MaxCycleRestarts == 0 {
		cfg.Orchestrator.MaxCycleRestarts = 3
	}
	if cfg.Orchestrator.ShutdownTimeout == 0 {
		cfg.Orchestrator.ShutdownTimeout = 2 * time.Minute
	}
	if cfg.Lighter.BaseURL == "" {
		cfg.Lighter.BaseURL = "https://mainnet.zklighter.elliot.ai"
	}
	if cfg.Lighter.Timeout == 0 {
		cfg.Lighter.Timeout = 30 * time.Second
	}
	if cfg.Pacifica.BaseURL == "" {
		cfg.Pacifica.BaseURL = "https://api.pacifica.fi/api/v1"
	}
	if cfg.Pacifica.WSURL == "" {
		cfg.Pacifica.WSURL = "wss://ws.pacifica.fi/ws"
	}
	if cfg.Pacifica.Timeout == 0 {
		cfg.Pacifica.Timeout = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dualdex-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9172"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.AccountBalance <= 0 {
		return errors.New("trading.account_balance must be > 0")
	}
	if cfg.Trading.MinPositionPercent <= 0 || cfg.Trading.MaxPositionPercent <= 0 {
		return errors.New("position percentages must be > 0")
	}
	if cfg.Trading.MinPositionPercent > cfg.Trading.MaxPositionPercent {
		return errors.New("trading.min_position_percent must not exceed trading.max_position_percent")
	}
	if cfg.Trading.MaxPositionPercent > 100 {
		return errors.New("trading.max_position_percent cannot exceed 100")
	}
	if cfg.Trading.MinHold <= 0 || cfg.Trading.MaxHold <= 0 {
		return errors.New("hold bounds must be > 0")
	}
	if cfg.Trading.MinHold > cfg.Trading.MaxHold {
		return errors.New("trading.min_hold must not exceed trading.max_hold")
	}
	if cfg.Trading.MinCycleWait > cfg.Trading.MaxCycleWait {
		return errors.New("trading.min_cycle_wait must not exceed trading.max_cycle_wait")
	}
	if len(cfg.Trading.Pairs) == 0 {
		return errors.New("trading.pairs cannot be empty")
	}
	for _, pair := range cfg.Trading.Pairs {
		lev, ok := cfg.Trading.Leverage[pair]
		if !ok {
			return fmt.Errorf("missing leverage for pair %s", pair)
		}
		if lev <= 0 || lev > 100 {
			return fmt.Errorf("invalid leverage %.2f for pair %s", lev, pair)
		}
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Verify.Attempts < 1 {
		return errors.New("verify.attempts must be >= 1")
	}
	if cfg.Verify.SizeTolerance < 0 || cfg.Verify.SizeTolerance >= 1 {
		return errors.New("verify.size_tolerance must be in [0, 1)")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
