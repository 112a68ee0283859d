// Package config loads bot configuration from a YAML file with environment
// overrides, and supports hot reload of strategy parameters without restart.
package config

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Kalshi     KalshiConfig     `mapstructure:"kalshi"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Web        WebConfig        `mapstructure:"web"`
	Bot        BotConfig        `mapstructure:"bot"`
	Store      StoreConfig      `mapstructure:"store"`
}

// StrategyConfig holds entry/exit pricing parameters.
type StrategyConfig struct {
	MarginPercent          float64 `mapstructure:"margin_percent"`
	AutoCloseMarginPercent float64 `mapstructure:"auto_close_margin_percent"`
	TakerFeeBufferCents    int     `mapstructure:"taker_fee_buffer_cents"`

	// SportOverrides replace the base parameters per sport; unset fields fall
	// through to the base values.
	SportOverrides map[string]SportOverride `mapstructure:"sport_overrides"`
}

// SportOverride carries optional per-sport parameter replacements. Pointer
// fields distinguish "not set" from explicit zero.
type SportOverride struct {
	MarginPercent          *float64 `mapstructure:"margin_percent"`
	AutoCloseMarginPercent *float64 `mapstructure:"auto_close_margin_percent"`
	TakerFeeBufferCents    *int     `mapstructure:"taker_fee_buffer_cents"`
}

// ForSport resolves the effective strategy parameters for a sport.
func (s StrategyConfig) ForSport(sport string) StrategyConfig {
	out := s
	ov, ok := s.SportOverrides[sport]
	if !ok {
		return out
	}
	if ov.MarginPercent != nil {
		out.MarginPercent = *ov.MarginPercent
	}
	if ov.AutoCloseMarginPercent != nil {
		out.AutoCloseMarginPercent = *ov.AutoCloseMarginPercent
	}
	if ov.TakerFeeBufferCents != nil {
		out.TakerFeeBufferCents = *ov.TakerFeeBufferCents
	}
	return out
}

// RiskConfig holds the pre-trade gate limits.
type RiskConfig struct {
	MaxOpenPositions     int           `mapstructure:"max_open_positions"`
	MaxPositionsPerSport int           `mapstructure:"max_positions_per_sport"`
	MinVolume            int           `mapstructure:"min_volume"`
	MaxSpreadCents       int           `mapstructure:"max_spread_cents"`
	MaxSnapshotAge       time.Duration `mapstructure:"max_snapshot_age"`
	OrderQuantity        int           `mapstructure:"order_quantity"`

	EnableSportDiversification bool `mapstructure:"enable_sport_diversification"`
	EnableLiquidityChecks      bool `mapstructure:"enable_liquidity_checks"`
}

// LifecycleConfig holds order-management tunables.
type LifecycleConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	MinRepriceTicks int           `mapstructure:"min_reprice_ticks"`
	StaleOrderAge   time.Duration `mapstructure:"stale_order_age"`
}

// SimulationConfig holds the backtest execution-friction knobs.
type SimulationConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	TakerFillRate            float64 `mapstructure:"taker_fill_rate"`
	TakerSlippageMeanCents   int     `mapstructure:"taker_slippage_mean_cents"`
	TakerSlippageStdCents    int     `mapstructure:"taker_slippage_std_cents"`
	MakerFillRate            float64 `mapstructure:"maker_fill_rate"`
	MakerRequirePriceThrough bool    `mapstructure:"maker_require_price_through"`
	ApplyLatency             bool    `mapstructure:"apply_latency"`
	MaxHoldSeconds           int     `mapstructure:"max_hold_seconds"`
	TimeoutExitSlippageCents int     `mapstructure:"timeout_exit_slippage_cents"`
	Seed                     uint64  `mapstructure:"seed"`
}

// KalshiConfig holds exchange API settings. The API key secret comes from the
// environment (KALSHI_ARB_KALSHI_API_SECRET), never the config file.
type KalshiConfig struct {
	APIBaseURL string        `mapstructure:"api_base_url"`
	WSURL      string        `mapstructure:"ws_url"`
	APIKeyID   string        `mapstructure:"api_key_id"`
	APISecret  string        `mapstructure:"api_secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DryRun     bool          `mapstructure:"dry_run"`
}

// TelegramConfig holds operator alert settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// WebConfig holds the status HTTP server settings.
type WebConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Enabled    bool   `mapstructure:"enabled"`
}

// BotConfig holds the evaluation loop settings.
type BotConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	OddsFile      string        `mapstructure:"odds_file"`
	EventsLogPath string        `mapstructure:"events_log_path"`
	StatePath     string        `mapstructure:"state_path"`
}

// StoreConfig holds trade persistence settings.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load reads configuration from path with KALSHI_ARB_* environment overrides.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.SetEnvPrefix("KALSHI_ARB")
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.margin_percent", 10.0)
	v.SetDefault("strategy.auto_close_margin_percent", 5.0)
	v.SetDefault("strategy.taker_fee_buffer_cents", 3)

	v.SetDefault("risk.max_open_positions", 10)
	v.SetDefault("risk.max_positions_per_sport", 3)
	v.SetDefault("risk.min_volume", 50)
	v.SetDefault("risk.max_spread_cents", 5)
	v.SetDefault("risk.max_snapshot_age", "30s")
	v.SetDefault("risk.order_quantity", 10)
	v.SetDefault("risk.enable_sport_diversification", true)
	v.SetDefault("risk.enable_liquidity_checks", true)

	v.SetDefault("lifecycle.max_attempts", 3)
	v.SetDefault("lifecycle.backoff_base", "250ms")
	v.SetDefault("lifecycle.backoff_max", "5s")
	v.SetDefault("lifecycle.min_reprice_ticks", 1)
	v.SetDefault("lifecycle.stale_order_age", "2m")

	v.SetDefault("simulation.enabled", true)
	v.SetDefault("simulation.taker_fill_rate", 0.85)
	v.SetDefault("simulation.taker_slippage_mean_cents", 1)
	v.SetDefault("simulation.taker_slippage_std_cents", 1)
	v.SetDefault("simulation.maker_fill_rate", 0.45)
	v.SetDefault("simulation.maker_require_price_through", true)
	v.SetDefault("simulation.apply_latency", true)
	v.SetDefault("simulation.max_hold_seconds", 300)
	v.SetDefault("simulation.timeout_exit_slippage_cents", 2)
	v.SetDefault("simulation.seed", 1)

	v.SetDefault("kalshi.api_base_url", "https://api.elections.kalshi.com")
	v.SetDefault("kalshi.ws_url", "wss://api.elections.kalshi.com/trade-api/ws/v2")
	v.SetDefault("kalshi.timeout", "10s")
	v.SetDefault("kalshi.dry_run", true)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("web.listen_addr", ":8090")
	v.SetDefault("web.enabled", true)

	v.SetDefault("bot.poll_interval", "5s")
	v.SetDefault("bot.odds_file", "./data/odds.json")
	v.SetDefault("bot.events_log_path", "./data/decisions.jsonl")
	v.SetDefault("bot.state_path", "./data/state.json")

	v.SetDefault("store.db_path", "./data/trades.db")
}

// Validate checks every section for usable values.
func (c *Config) Validate() error {
	if c.Strategy.MarginPercent < 0 || c.Strategy.MarginPercent > 100 {
		return fmt.Errorf("strategy.margin_percent must be in [0,100], got %v", c.Strategy.MarginPercent)
	}
	if c.Strategy.AutoCloseMarginPercent < 0 || c.Strategy.AutoCloseMarginPercent > 100 {
		return fmt.Errorf("strategy.auto_close_margin_percent must be in [0,100], got %v", c.Strategy.AutoCloseMarginPercent)
	}
	if c.Strategy.TakerFeeBufferCents < 0 {
		return fmt.Errorf("strategy.taker_fee_buffer_cents must be >= 0, got %d", c.Strategy.TakerFeeBufferCents)
	}
	for sport, ov := range c.Strategy.SportOverrides {
		if ov.MarginPercent != nil && (*ov.MarginPercent < 0 || *ov.MarginPercent > 100) {
			return fmt.Errorf("strategy.sport_overrides.%s.margin_percent must be in [0,100]", sport)
		}
	}

	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("risk.max_open_positions must be at least 1")
	}
	if c.Risk.OrderQuantity < 1 {
		return fmt.Errorf("risk.order_quantity must be at least 1")
	}
	if c.Risk.MaxSnapshotAge <= 0 {
		return fmt.Errorf("risk.max_snapshot_age must be positive")
	}

	if c.Lifecycle.MaxAttempts < 1 {
		return fmt.Errorf("lifecycle.max_attempts must be at least 1")
	}
	if c.Lifecycle.BackoffBase <= 0 || c.Lifecycle.BackoffMax < c.Lifecycle.BackoffBase {
		return fmt.Errorf("lifecycle backoff range invalid: base=%s max=%s", c.Lifecycle.BackoffBase, c.Lifecycle.BackoffMax)
	}

	if c.Simulation.TakerFillRate < 0 || c.Simulation.TakerFillRate > 1 {
		return fmt.Errorf("simulation.taker_fill_rate must be in [0,1]")
	}
	if c.Simulation.MakerFillRate < 0 || c.Simulation.MakerFillRate > 1 {
		return fmt.Errorf("simulation.maker_fill_rate must be in [0,1]")
	}
	if c.Simulation.MaxHoldSeconds < 1 {
		return fmt.Errorf("simulation.max_hold_seconds must be at least 1")
	}

	if c.Kalshi.APIBaseURL == "" {
		return fmt.Errorf("kalshi.api_base_url is required")
	}
	if !c.Kalshi.DryRun && (c.Kalshi.APIKeyID == "" || c.Kalshi.APISecret == "") {
		return fmt.Errorf("kalshi.api_key_id and kalshi.api_secret are required for live trading")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Web.Enabled && c.Web.ListenAddr == "" {
		return fmt.Errorf("web.listen_addr is required when web is enabled")
	}

	if c.Bot.PollInterval < time.Second {
		return fmt.Errorf("bot.poll_interval must be at least 1s")
	}
	return nil
}

// Watcher republishes the config on file change so strategy parameters can be
// tuned mid-session. Readers call Current; a reload that fails validation is
// logged and dropped, keeping the last good config live.
type Watcher struct {
	current atomic.Pointer[Config]
}

// NewStaticWatcher wraps a fixed config, for one-shot tools that have no
// file to watch.
func NewStaticWatcher(cfg *Config) *Watcher {
	w := &Watcher{}
	w.current.Store(cfg)
	return w
}

// Watch loads path and begins watching it for changes.
func Watch(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{}
	w.current.Store(cfg)

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			log.Printf("[warn] config reload unmarshal failed, keeping previous: %v", err)
			return
		}
		if err := next.Validate(); err != nil {
			log.Printf("[warn] config reload invalid, keeping previous: %v", err)
			return
		}
		w.current.Store(&next)
		log.Printf("[cfg] reloaded %s", e.Name)
	})
	v.WatchConfig()
	return w, nil
}

// Current returns the latest valid config snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}
