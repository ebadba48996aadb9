package binance

import (
	"strings"
	"time"
)

// Config holds the USDT-M futures credentials and request policy.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	Testnet     bool          `mapstructure:"testnet"`
	BaseURL     string        `mapstructure:"base_url"`
	QuoteAsset  string        `mapstructure:"quote_asset"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	// KlineInterval is the candle size used for price history.
	KlineInterval string  `mapstructure:"kline_interval"`
	DepthLimit    int     `mapstructure:"depth_limit"`
	TakerFee      float64 `mapstructure:"taker_fee"`
	// QuantityPrecision maps a futures symbol to its lot decimals.
	QuantityPrecision map[string]int `mapstructure:"quantity_precision"`
	MaxRetries        uint           `mapstructure:"max_retries"`
	RetryMaxElapsed   time.Duration  `mapstructure:"retry_max_elapsed"`
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 10 * time.Second
	}
	if out.KlineInterval == "" {
		out.KlineInterval = "1h"
	}
	if out.DepthLimit <= 0 {
		out.DepthLimit = 20
	}
	if out.TakerFee <= 0 {
		out.TakerFee = 0.0004
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.RetryMaxElapsed <= 0 {
		out.RetryMaxElapsed = 15 * time.Second
	}
	return out
}

// Trading reports whether credentials are present.
func (c Config) Trading() bool {
	return c.APIKey != "" && c.SecretKey != ""
}
