package monitor

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

type memStore struct {
	saved   []domain.HedgeResult
	failErr error
}

func (m *memStore) SaveHedgeResult(_ context.Context, _ string, res domain.HedgeResult) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.saved = append(m.saved, res)
	return nil
}

func (m *memStore) LoadHedgeResults(_ context.Context, positionID string, since time.Time) ([]domain.HedgeResult, error) {
	var out []domain.HedgeResult
	for _, r := range m.saved {
		if r.PositionID == positionID && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func result(id string, at time.Time, ok bool) domain.HedgeResult {
	return domain.HedgeResult{
		ID: id, PositionID: "p1", Success: ok, TotalCost: 100, Latency: 40 * time.Millisecond,
		Orders:    []domain.HedgeOrder{{Symbol: "BTC-PERP", Side: domain.OrderSell, Size: 0.5, Price: 50_000}},
		Timestamp: at,
	}
}

func TestHedgeHistoryAppendAndQuery(t *testing.T) {
	dir := t.TempDir()
	store := &memStore{}
	h, err := NewHedgeHistory(HistoryConfig{Dir: dir, MaxPerPosition: 2}, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "BTC", result("r1", start, true)))
	require.NoError(t, h.Append(ctx, "BTC", result("r2", start.Add(time.Hour), false)))
	require.NoError(t, h.Append(ctx, "BTC", result("r3", start.Add(2*time.Hour), true)))

	all, err := h.Since(ctx, "p1", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID)
	assert.Equal(t, "r3", all[1].ID)

	recent, err := h.Since(ctx, "p1", start.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "r3", recent[0].ID)

	stats := h.Statistics("p1")
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 40*time.Millisecond, stats.AvgLatency)
	assert.Len(t, store.saved, 3)

	require.NoError(t, h.Close())

	files, err := filepath.Glob(filepath.Join(dir, "hedges_*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "r1", rows[1][1])
	assert.Equal(t, "BTC-PERP", rows[1][4])
}

func TestHedgeHistoryFallsBackToStore(t *testing.T) {
	store := &memStore{saved: []domain.HedgeResult{result("old", start, true)}}
	h, err := NewHedgeHistory(HistoryConfig{}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	got, err := h.Since(context.Background(), "p1", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
	assert.False(t, h.Known("p1"))
}

func TestHedgeHistoryReportsStoreFailure(t *testing.T) {
	store := &memStore{failErr: errors.New("disk full")}
	h, err := NewHedgeHistory(HistoryConfig{}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = h.Append(context.Background(), "BTC", result("r1", start, true))
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, h.Known("p1"))
}
