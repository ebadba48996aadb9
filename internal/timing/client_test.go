package timing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

func TestPredictTiming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var f domain.TimingFeatures
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f))
		verdict := "hedge"
		if f.Severity < 0.5 {
			verdict = "wait"
		}
		_, _ = w.Write([]byte(`{"verdict":"` + verdict + `","confidence":0.8}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, zaptest.NewLogger(t))
	v, err := c.PredictTiming(context.Background(), domain.TimingFeatures{PositionID: "p1", Severity: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictHedge, v)

	v, err = c.PredictTiming(context.Background(), domain.TimingFeatures{PositionID: "p1", Severity: 0.1})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictWait, v)
}

func TestPredictTimingRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"verdict":"wait"}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, MaxRetries: 3}, zaptest.NewLogger(t))
	v, err := c.PredictTiming(context.Background(), domain.TimingFeatures{})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictWait, v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPredictTimingRejectsUnknownVerdict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"verdict":"maybe"}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, MaxRetries: 3}, zaptest.NewLogger(t))
	_, err := c.PredictTiming(context.Background(), domain.TimingFeatures{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}
