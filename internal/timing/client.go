// Package timing calls an external model service that advises whether a
// hedge should go out now or wait.
package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// Config points at the model endpoint. An empty URL disables the model.
type Config struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max_retries"`
}

// Enabled reports whether a model endpoint is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

type prediction struct {
	Verdict    domain.Verdict `json:"verdict"`
	Confidence float64        `json:"confidence"`
}

// Client implements domain.TimingModel over HTTP. It POSTs the features as
// JSON and expects {"verdict": "hedge"|"wait"}.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New returns a client for cfg.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("timing_model"),
	}
}

// PredictTiming implements domain.TimingModel.
func (c *Client) PredictTiming(ctx context.Context, features domain.TimingFeatures) (domain.Verdict, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}

	p, err := backoff.Retry(ctx, func() (prediction, error) {
		return c.post(ctx, body)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries),
		backoff.WithMaxElapsedTime(c.cfg.Timeout),
	)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Timing verdict",
		zap.String("position_id", features.PositionID),
		zap.String("verdict", string(p.Verdict)),
		zap.Float64("confidence", p.Confidence))
	return p.Verdict, nil
}

func (c *Client) post(ctx context.Context, body []byte) (prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return prediction{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return prediction{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return prediction{}, err
	}
	switch {
	case resp.StatusCode >= 500:
		return prediction{}, fmt.Errorf("timing model: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return prediction{}, backoff.Permanent(fmt.Errorf("timing model: status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}

	var p prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return prediction{}, backoff.Permanent(fmt.Errorf("timing model: decode: %w", err))
	}
	if p.Verdict != domain.VerdictHedge && p.Verdict != domain.VerdictWait {
		return prediction{}, backoff.Permanent(fmt.Errorf("timing model: unknown verdict %q", p.Verdict))
	}
	return p, nil
}
