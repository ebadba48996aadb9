package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
)

const chatID = int64(4242)

var start = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	callbacks []tgbotapi.CallbackConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeControl struct {
	confirmed map[string]bool
	emergency int
}

func (f *fakeControl) ListStatus() []monitor.Status {
	return []monitor.Status{{
		PositionID: "p1", Symbol: "BTC", AlertState: alert.StateBreached,
		Metrics: &domain.RiskMetrics{Exposure: 0.4, VaR95: 1200},
		Pending: &hedge.Pending{ID: "c1"},
	}}
}

func (f *fakeControl) ConfirmPendingHedge(_ context.Context, id string, approve bool) (domain.HedgeResult, error) {
	if f.confirmed == nil {
		f.confirmed = map[string]bool{}
	}
	f.confirmed[id] = approve
	return domain.HedgeResult{Success: approve, TotalCost: 60}, nil
}

func (f *fakeControl) EmergencyStop(context.Context) (monitor.EmergencyReport, error) {
	f.emergency++
	return monitor.EmergencyReport{Stopped: 2, CancelledConfirmations: 1}, nil
}

func command(text string) tgbotapi.Update {
	name, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func TestAlertMessage(t *testing.T) {
	sender := &fakeSender{}
	n := New(Config{ChatID: chatID}, sender, nil, zaptest.NewLogger(t))

	err := n.Handle(context.Background(), events.NewAlertTriggered(alert.Alert{
		Symbol: "BTC", Metric: domain.MetricExposure, Condition: alert.Above,
		Threshold: 0.05, Value: 0.4, Level: "critical", Timestamp: start,
	}))
	require.NoError(t, err)
	msg := sender.last(t)
	assert.Equal(t, chatID, msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "CRITICAL alert")
	assert.Contains(t, msg.Text, "exposure above 0.05")
}

func TestConfirmationMessageHasButtons(t *testing.T) {
	sender := &fakeSender{}
	n := New(Config{ChatID: chatID}, sender, nil, zaptest.NewLogger(t))
	p := hedge.Pending{
		ID: "c1", PositionID: "p1", CreatedAt: start, ExpiresAt: start.Add(30 * time.Minute),
		Order: domain.HedgeOrder{Symbol: "BTC-PERP", Side: domain.OrderSell, Size: 3, Price: 50_000},
	}
	require.NoError(t, n.Handle(context.Background(), events.NewConfirmationRequired("BTC", p)))

	msg := sender.last(t)
	assert.Contains(t, msg.Text, "notional $150000.00")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "approve:c1", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestEventFilter(t *testing.T) {
	sender := &fakeSender{}
	n := New(Config{ChatID: chatID, Events: []string{string(events.EmergencyStopped)}}, sender, nil, zaptest.NewLogger(t))

	require.NoError(t, n.Handle(context.Background(), events.NewDataRecovered(start, "p1", "BTC")))
	assert.Empty(t, sender.sent)
	require.NoError(t, n.Handle(context.Background(), events.NewEmergencyStop(start, 1, 0)))
	assert.Contains(t, sender.last(t).Text, "EMERGENCY STOP")
}

func TestCommands(t *testing.T) {
	sender := &fakeSender{}
	ctl := &fakeControl{}
	n := New(Config{ChatID: chatID, Commands: true}, sender, ctl, zaptest.NewLogger(t))
	ctx := context.Background()

	n.HandleUpdate(ctx, command("/status"))
	assert.Contains(t, sender.last(t).Text, "p1 BTC breached exposure=0.400")
	assert.Contains(t, sender.last(t).Text, "pending=c1")

	n.HandleUpdate(ctx, command("/approve c1"))
	assert.True(t, ctl.confirmed["c1"])
	assert.Equal(t, "hedge executed, cost $60.00", sender.last(t).Text)

	n.HandleUpdate(ctx, command("/reject p1"))
	assert.False(t, ctl.confirmed["p1"])

	n.HandleUpdate(ctx, command("/emergency_stop"))
	assert.Equal(t, 1, ctl.emergency)

	foreign := command("/emergency_stop")
	foreign.Message.Chat.ID = 1
	n.HandleUpdate(ctx, foreign)
	assert.Equal(t, 1, ctl.emergency)
}

func TestCallbackApproves(t *testing.T) {
	sender := &fakeSender{}
	ctl := &fakeControl{}
	n := New(Config{ChatID: chatID}, sender, ctl, zaptest.NewLogger(t))

	n.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q1",
		Data:    "reject:c9",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}})
	v, ok := ctl.confirmed["c9"]
	require.True(t, ok)
	assert.False(t, v)
	require.Len(t, sender.callbacks, 1)
	assert.Equal(t, "hedge rejected", sender.callbacks[0].Text)
}
