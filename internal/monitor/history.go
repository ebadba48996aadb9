package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/logger"
)

// HistoryStore persists hedge results beyond the process lifetime.
type HistoryStore interface {
	SaveHedgeResult(ctx context.Context, symbol string, res domain.HedgeResult) error
	LoadHedgeResults(ctx context.Context, positionID string, since time.Time) ([]domain.HedgeResult, error)
}

// HistoryConfig controls the in-memory log and the CSV audit file.
type HistoryConfig struct {
	// Dir enables the CSV audit trail when set.
	Dir            string        `mapstructure:"dir"`
	MaxPerPosition int           `mapstructure:"max_per_position"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// HedgeStatistics aggregates the hedge log of one position.
type HedgeStatistics struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Manual     int           `json:"manual"`
	TotalCost  float64       `json:"total_cost"`
	AvgLatency time.Duration `json:"avg_latency"`
	LastAt     time.Time     `json:"last_at"`
}

var csvHeader = []string{
	"timestamp", "result_id", "position_id", "symbol", "instrument", "side", "size",
	"price", "success", "manual", "total_cost", "latency_ms", "message",
}

// HedgeHistory is the append-only per-position hedge log. Results are
// immutable once appended; readers get copies.
type HedgeHistory struct {
	mu     sync.RWMutex
	logs   map[string][]domain.HedgeResult
	max    int
	audit  *logger.DailyCSV
	store  HistoryStore
	logger *zap.Logger
}

// NewHedgeHistory creates the log. store may be nil.
func NewHedgeHistory(cfg HistoryConfig, store HistoryStore, zapLogger *zap.Logger) (*HedgeHistory, error) {
	if cfg.MaxPerPosition <= 0 {
		cfg.MaxPerPosition = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	h := &HedgeHistory{
		logs:   make(map[string][]domain.HedgeResult),
		max:    cfg.MaxPerPosition,
		store:  store,
		logger: zapLogger.Named("hedge_history"),
	}

	if cfg.Dir != "" {
		w, err := logger.NewDailyCSV(cfg.Dir, "hedges", csvHeader, cfg.FlushInterval, h.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create hedge audit trail: %w", err)
		}
		h.audit = w
		h.logger.Info("Hedge audit trail enabled", zap.String("dir", cfg.Dir))
	}
	return h, nil
}

// Append records res. The in-memory append always succeeds; audit and store
// failures are returned for logging.
func (h *HedgeHistory) Append(ctx context.Context, symbol string, res domain.HedgeResult) error {
	h.mu.Lock()
	log := append(h.logs[res.PositionID], res)
	if len(log) > h.max {
		log = log[len(log)-h.max:]
	}
	h.logs[res.PositionID] = log
	h.mu.Unlock()

	var errs []error
	if h.audit != nil {
		if err := h.audit.Write(res.Timestamp, toCSV(symbol, res)); err != nil {
			errs = append(errs, err)
		}
	}
	if h.store != nil {
		if err := h.store.SaveHedgeResult(ctx, symbol, res); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist hedge result: %w", err))
		}
	}

	h.logger.Info("Hedge result recorded",
		zap.String("id", res.ID),
		zap.String("position", res.PositionID),
		zap.Bool("success", res.Success),
		zap.Bool("manual", res.Manual))
	return errors.Join(errs...)
}

// Since returns the results of positionID at or after since, oldest first.
// A zero since returns the whole log. When nothing is held in memory the
// store is consulted.
func (h *HedgeHistory) Since(ctx context.Context, positionID string, since time.Time) ([]domain.HedgeResult, error) {
	h.mu.RLock()
	log := h.logs[positionID]
	out := make([]domain.HedgeResult, 0, len(log))
	for _, r := range log {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	held := len(log) > 0
	h.mu.RUnlock()

	if held || h.store == nil {
		return out, nil
	}
	stored, err := h.store.LoadHedgeResults(ctx, positionID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load hedge history: %w", err)
	}
	return stored, nil
}

// Known reports whether any result of positionID is held in memory.
func (h *HedgeHistory) Known(positionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs[positionID]) > 0
}

// Statistics summarises the in-memory log of positionID.
func (h *HedgeHistory) Statistics(positionID string) HedgeStatistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		stats   HedgeStatistics
		latency time.Duration
	)
	for _, r := range h.logs[positionID] {
		stats.Total++
		if r.Success {
			stats.Successful++
			stats.TotalCost += r.TotalCost
			latency += r.Latency
		} else {
			stats.Failed++
		}
		if r.Manual {
			stats.Manual++
		}
		stats.LastAt = r.Timestamp
	}
	if stats.Successful > 0 {
		stats.AvgLatency = latency / time.Duration(stats.Successful)
	}
	return stats
}

// Close flushes the audit trail.
func (h *HedgeHistory) Close() error {
	if h.audit == nil {
		return nil
	}
	return h.audit.Close()
}

func toCSV(symbol string, res domain.HedgeResult) []string {
	var (
		instrument, side string
		size, price      float64
	)
	if len(res.Orders) > 0 {
		o := res.Orders[0]
		instrument, side, size, price = o.Symbol, string(o.Side), o.Size, o.Price
	}
	return []string{
		res.Timestamp.UTC().Format(time.RFC3339),
		res.ID,
		res.PositionID,
		symbol,
		instrument,
		side,
		strconv.FormatFloat(size, 'f', -1, 64),
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatBool(res.Success),
		strconv.FormatBool(res.Manual),
		strconv.FormatFloat(res.TotalCost, 'f', 2, 64),
		strconv.FormatInt(res.Latency.Milliseconds(), 10),
		res.Message,
	}
}
