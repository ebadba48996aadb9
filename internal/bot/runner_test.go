package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/config"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Exchange.Paper.Latency = 0
	cfg.Exchange.Paper.Seed = 7
	cfg.Storage.DSN = filepath.Join(dir, "hedge.db")
	cfg.History.Dir = filepath.Join(dir, "audit")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Positions = []config.PositionConfig{
		{ID: "btc-core", Symbol: "BTC", Side: domain.SideLong, Size: 1, EntryPrice: 50000},
		{ID: "eth-core", Symbol: "ETH", Side: domain.SideShort, Size: 5},
	}
	return cfg
}

func TestRunnerInitializeStartsConfiguredPositions(t *testing.T) {
	r := NewRunner(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))

	statuses := r.Service().ListStatus()
	assert.Len(t, statuses, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/btc-core", nil)
	r.Server().Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"BTC"`)

	rec = httptest.NewRecorder()
	r.Server().Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, r.Shutdown())
	_, err := r.Service().StartMonitoring(context.Background(), testConfig(t).Positions[0].StartRequest())
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestRunnerRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Positions = nil
	r := NewRunner(cfg, zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerRequiresInitialize(t *testing.T) {
	r := NewRunner(testConfig(t), zaptest.NewLogger(t))
	assert.Error(t, r.Run(context.Background()))
}

func TestShutdownHandlerOrderAndErrors(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)
	var order []string
	sh.AddCloser("store", func() error { order = append(order, "store"); return nil })
	sh.AddCloser("bus", func() error { order = append(order, "bus"); return errors.New("boom") })
	sh.Add("monitor", func(context.Context) error { order = append(order, "monitor"); return nil })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus: boom")
	assert.Equal(t, []string{"monitor", "bus", "store"}, order)

	assert.NoError(t, sh.Shutdown(context.Background()))
}

func TestShutdownHandlerTimeout(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 20*time.Millisecond)
	sh.Add("stuck", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck: shutdown timeout")
}
