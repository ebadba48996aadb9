// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/exchange/binance"
	"github.com/rovshanmuradov/hedge-bot/internal/exchange/paper"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/logger"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/notify/telegram"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/storage"
	"github.com/rovshanmuradov/hedge-bot/internal/timing"
	"github.com/rovshanmuradov/hedge-bot/internal/transport/httpapi"
)

// EnvPrefix is prepended to every environment override, e.g.
// HEDGEBOT_TELEGRAM_TOKEN for telegram.token.
const EnvPrefix = "HEDGEBOT"

// Venue names.
const (
	VenuePaper   = "paper"
	VenueBinance = "binance"
)

type Config struct {
	Log       logger.Config         `mapstructure:"log"`
	Monitor   monitor.Config        `mapstructure:"monitor"`
	Risk      risk.Config           `mapstructure:"risk"`
	Strategy  hedge.Config          `mapstructure:"strategy"`
	Pipeline  hedge.PipelineConfig  `mapstructure:"pipeline"`
	History   monitor.HistoryConfig `mapstructure:"history"`
	Exchange  ExchangeConfig        `mapstructure:"exchange"`
	Timing    timing.Config         `mapstructure:"timing"`
	Storage   storage.Config        `mapstructure:"storage"`
	HTTP      httpapi.Config        `mapstructure:"http"`
	Telegram  telegram.Config       `mapstructure:"telegram"`
	Events    EventsConfig          `mapstructure:"events"`
	Positions []PositionConfig      `mapstructure:"positions"`
}

// ExchangeConfig picks the venue used for market data and execution.
type ExchangeConfig struct {
	Venue   string         `mapstructure:"venue"`
	Paper   paper.Config   `mapstructure:"paper"`
	Binance binance.Config `mapstructure:"binance"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// PositionConfig is a position monitored from startup.
type PositionConfig struct {
	ID         string            `mapstructure:"id"`
	Symbol     string            `mapstructure:"symbol"`
	Side       domain.Side       `mapstructure:"side"`
	Size       float64           `mapstructure:"size"`
	EntryPrice float64           `mapstructure:"entry_price"`
	HedgeDelta float64           `mapstructure:"hedge_delta"`
	Option     *OptionConfig     `mapstructure:"option"`
	AutoHedge  bool              `mapstructure:"auto_hedge"`
	Strategy   string            `mapstructure:"strategy"`
	Interval   time.Duration     `mapstructure:"interval"`
	Thresholds *alert.Thresholds `mapstructure:"thresholds"`
}

type OptionConfig struct {
	Type   domain.OptionType `mapstructure:"type"`
	Strike float64           `mapstructure:"strike"`
	Expiry time.Time         `mapstructure:"expiry"`
}

// StartRequest converts the entry into a monitor request.
func (p PositionConfig) StartRequest() monitor.StartRequest {
	req := monitor.StartRequest{
		Position: domain.Position{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			HedgeDelta: p.HedgeDelta,
		},
		Thresholds: p.Thresholds,
		AutoHedge:  p.AutoHedge,
		Strategy:   p.Strategy,
		Interval:   p.Interval,
	}
	if p.Option != nil {
		req.Position.Option = &domain.OptionAttrs{Type: p.Option.Type, Strike: p.Option.Strike, Expiry: p.Option.Expiry}
	}
	return req
}

func defaults() map[string]interface{} {
	mon := monitor.DefaultConfig()
	rsk := risk.DefaultConfig()
	strat := hedge.DefaultConfig()
	pipe := hedge.DefaultPipelineConfig()
	logCfg := logger.DefaultConfig()
	pap := paper.DefaultConfig()
	api := httpapi.DefaultConfig()

	return map[string]interface{}{
		"log.file":        logCfg.File,
		"log.max_size":    logCfg.MaxSize,
		"log.max_age":     logCfg.MaxAge,
		"log.max_backups": logCfg.MaxBackups,
		"log.compress":    logCfg.Compress,
		"log.development": false,
		"log.pretty":      false,

		"monitor.interval":                   mon.Interval,
		"monitor.stale_after_misses":         mon.StaleAfterMisses,
		"monitor.max_snapshot_age":           mon.MaxSnapshotAge,
		"monitor.history_window":             mon.HistoryWindow,
		"monitor.benchmark_symbol":           "",
		"monitor.fetch_timeout":              mon.FetchTimeout,
		"monitor.stop_timeout":               mon.StopTimeout,
		"monitor.suppression_window":         mon.SuppressionWindow,
		"monitor.suppress_on_failure":        mon.SuppressOnFailure,
		"monitor.hedge_cooldown":             mon.HedgeCooldown,
		"monitor.retry_initial":              mon.RetryInitial,
		"monitor.retry_max":                  mon.RetryMax,
		"monitor.retry_jitter":               mon.RetryJitter,
		"monitor.thresholds.delta_threshold": mon.Thresholds.Delta,
		"monitor.thresholds.var_threshold":   mon.Thresholds.VaR,
		"monitor.default_strategy":           mon.DefaultStrategy,
		"monitor.scenarios":                  mon.Scenarios,

		"risk.risk_free_rate":     rsk.RiskFreeRate,
		"risk.default_volatility": rsk.DefaultVolatility,
		"risk.min_history":        rsk.MinHistory,
		"risk.volatility_window":  rsk.VolatilityWindow,

		"strategy.min_notional":             strat.MinNotional,
		"strategy.max_notional":             strat.MaxNotional,
		"strategy.noise_threshold":          strat.NoiseThreshold,
		"strategy.options.target_delta":     strat.Options.TargetDelta,
		"strategy.options.delta_tolerance":  strat.Options.DeltaTolerance,
		"strategy.options.target_expiry":    strat.Options.TargetExpiry,
		"strategy.options.expiry_tolerance": strat.Options.ExpiryTolerance,

		"pipeline.large_trade_threshold": pipe.LargeTradeThreshold,
		"pipeline.confirmation_timeout":  pipe.ConfirmationTimeout,
		"pipeline.execution_timeout":     pipe.ExecutionTimeout,

		"history.dir":              "data/audit",
		"history.max_per_position": 1000,
		"history.flush_interval":   30 * time.Second,

		"exchange.venue":                     VenuePaper,
		"exchange.paper.prices":              pap.Prices,
		"exchange.paper.volatility":          pap.Volatility,
		"exchange.paper.step_interval":       pap.StepInterval,
		"exchange.paper.spread":              pap.Spread,
		"exchange.paper.depth_levels":        pap.DepthLevels,
		"exchange.paper.level_size":          pap.LevelSize,
		"exchange.paper.fee_rate":            pap.FeeRate,
		"exchange.paper.slippage":            pap.Slippage,
		"exchange.paper.max_order_size":      pap.MaxOrderSize,
		"exchange.paper.latency":             pap.Latency,
		"exchange.paper.options":             pap.Options,
		"exchange.paper.option_expiry":       pap.OptionExpiry,
		"exchange.paper.seed":                pap.Seed,
		"exchange.binance.api_key":           "",
		"exchange.binance.secret_key":        "",
		"exchange.binance.testnet":           false,
		"exchange.binance.base_url":          "",
		"exchange.binance.quote_asset":       "USDT",
		"exchange.binance.http_timeout":      10 * time.Second,
		"exchange.binance.kline_interval":    "1h",
		"exchange.binance.depth_limit":       20,
		"exchange.binance.taker_fee":         0.0004,
		"exchange.binance.max_retries":       3,
		"exchange.binance.retry_max_elapsed": 15 * time.Second,

		"timing.url":         "",
		"timing.timeout":     3 * time.Second,
		"timing.max_retries": 2,

		"storage.dsn":               "",
		"storage.max_open_conns":    10,
		"storage.max_idle_conns":    5,
		"storage.conn_max_lifetime": time.Hour,
		"storage.slow_query":        200 * time.Millisecond,
		"storage.log_level":         "warn",

		"http.addr":             api.Addr,
		"http.mode":             api.Mode,
		"http.read_timeout":     api.ReadTimeout,
		"http.write_timeout":    api.WriteTimeout,
		"http.shutdown_timeout": api.ShutdownTimeout,
		"http.token":            "",

		"telegram.token":    "",
		"telegram.chat_id":  0,
		"telegram.commands": true,
		"telegram.events":   []string{},

		"events.buffer_size": 1000,
	}
}

// LoadConfig reads path (YAML, JSON or TOML), applies defaults and
// HEDGEBOT_* environment overrides, then validates. A .env file next to
// the config file or in the working directory is loaded first; variables
// already set in the environment win. An empty path uses defaults and
// environment only.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		lowerStringHook(reflect.TypeOf(domain.Side("")), reflect.TypeOf(domain.OptionType(""))),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	candidates := []string{".env"}
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
		}
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// lowerStringHook trims and lower-cases strings decoded into the given
// string types.
func lowerStringHook(types ...reflect.Type) mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		for _, t := range types {
			if to == t {
				return strings.ToLower(strings.TrimSpace(data.(string))), nil
			}
		}
		return data, nil
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := validateNumericParams(c); err != nil {
		return err
	}
	switch c.Exchange.Venue {
	case VenuePaper:
		if len(c.Exchange.Paper.Prices) == 0 {
			return errors.New("exchange.paper.prices is empty")
		}
	case VenueBinance:
		if (c.Exchange.Binance.APIKey == "") != (c.Exchange.Binance.SecretKey == "") {
			return errors.New("exchange.binance needs both api_key and secret_key, or neither")
		}
		if _, err := binance.KlineDuration(c.Exchange.Binance.KlineInterval); err != nil {
			return fmt.Errorf("exchange.binance.kline_interval: %w", err)
		}
	default:
		return fmt.Errorf("unknown exchange venue %q", c.Exchange.Venue)
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when telegram.token is set")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is empty")
	}
	return validatePositions(c.Positions)
}

func validateNumericParams(c *Config) error {
	if c.Risk.DefaultVolatility < 0 || c.Risk.RiskFreeRate < 0 {
		return errors.New("risk parameters must not be negative")
	}
	if c.Strategy.MinNotional < 0 || (c.Strategy.MaxNotional > 0 && c.Strategy.MaxNotional < c.Strategy.MinNotional) {
		return errors.New("invalid strategy notional bounds")
	}
	if c.Strategy.NoiseThreshold < 0 {
		return errors.New("invalid strategy.noise_threshold")
	}
	if c.Pipeline.LargeTradeThreshold <= 0 {
		return errors.New("invalid pipeline.large_trade_threshold")
	}
	if c.Pipeline.ConfirmationTimeout <= 0 || c.Pipeline.ExecutionTimeout <= 0 {
		return errors.New("pipeline timeouts must be positive")
	}
	if c.History.MaxPerPosition < 0 {
		return errors.New("invalid history.max_per_position")
	}
	if c.Events.BufferSize <= 0 {
		return errors.New("invalid events.buffer_size")
	}
	return nil
}

func validatePositions(positions []PositionConfig) error {
	seen := make(map[string]struct{}, len(positions))
	for i, p := range positions {
		req := p.StartRequest()
		if err := req.Position.Validate(); err != nil {
			return fmt.Errorf("positions[%d]: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("positions[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Strategy != "" {
			if _, err := hedge.ParseKind(p.Strategy); err != nil {
				return fmt.Errorf("positions[%d]: %w", i, err)
			}
		}
		if p.Thresholds != nil {
			if err := p.Thresholds.Validate(); err != nil {
				return fmt.Errorf("positions[%d]: %w", i, err)
			}
		}
	}
	return nil
}
