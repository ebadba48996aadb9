package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "hedgebot.log")
	cfg.Pretty = true

	l, err := New(cfg)
	require.NoError(t, err)

	l.WithComponent("monitor").Info("tick")
	l.WithPosition("pos-1", "BTC").Warn("breach")
	_ = l.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"monitor"`)
	assert.Contains(t, string(data), `"position_id":"pos-1"`)
}

func TestNewWithoutFile(t *testing.T) {
	l, err := New(Config{Development: true})
	require.NoError(t, err)
	end := l.TrackPerformance("noop")
	end()
}

func TestPrettyEncoderFormat(t *testing.T) {
	enc := PrettyEncoder(false)
	entry := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Date(2025, 3, 3, 9, 30, 0, 125e6, time.UTC),
		LoggerName: "monitor.session",
		Message:    "Alert triggered",
	}
	buf, err := enc.EncodeEntry(entry, []zapcore.Field{zap.String("position_id", "btc-1")})
	require.NoError(t, err)
	defer buf.Free()

	line := buf.String()
	assert.Contains(t, line, "09:30:00.125")
	assert.Contains(t, line, "WRN")
	assert.Contains(t, line, "monitor.session")
	assert.Contains(t, line, `"position_id": "btc-1"`)
	assert.NotContains(t, line, "caller")
}
