// Package telegram pushes control loop events to a Telegram chat and
// accepts a few commands back: status, approve/reject of pending hedges
// and the emergency stop.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
)

// Config enables the notifier when Token and ChatID are set.
type Config struct {
	Token    string `mapstructure:"token"`
	ChatID   int64  `mapstructure:"chat_id"`
	Commands bool   `mapstructure:"commands"`
	// Events limits which event types are sent; empty means all.
	Events []string `mapstructure:"events"`
}

// Enabled reports whether credentials are present.
func (c Config) Enabled() bool {
	return c.Token != "" && c.ChatID != 0
}

// Sender is the subset of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Controller is the subset of the monitor service reachable from chat.
type Controller interface {
	ListStatus() []monitor.Status
	ConfirmPendingHedge(ctx context.Context, id string, approve bool) (domain.HedgeResult, error)
	EmergencyStop(ctx context.Context) (monitor.EmergencyReport, error)
}

// Notifier formats bus events as chat messages.
type Notifier struct {
	sender  Sender
	chatID  int64
	control Controller
	filter  map[events.EventType]struct{}
	logger  *zap.Logger
}

// NewBot authorizes against the Bot API and returns a notifier using it.
func NewBot(cfg Config, control Controller, logger *zap.Logger) (*Notifier, *tgbotapi.BotAPI, error) {
	if !cfg.Enabled() {
		return nil, nil, errors.New("telegram: token and chat_id are required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return New(cfg, api, control, logger), api, nil
}

// New wraps an existing sender.
func New(cfg Config, sender Sender, control Controller, logger *zap.Logger) *Notifier {
	n := &Notifier{
		sender:  sender,
		chatID:  cfg.ChatID,
		control: control,
		logger:  logger.Named("telegram"),
	}
	if len(cfg.Events) > 0 {
		n.filter = make(map[events.EventType]struct{}, len(cfg.Events))
		for _, t := range cfg.Events {
			n.filter[events.EventType(strings.TrimSpace(t))] = struct{}{}
		}
	}
	return n
}

// Handle implements events.Handler.
func (n *Notifier) Handle(_ context.Context, event events.Event) error {
	if n.filter != nil {
		if _, ok := n.filter[event.Type()]; !ok {
			return nil
		}
	}
	msg, ok := n.format(event)
	if !ok {
		return nil
	}
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Warn("Failed to send notification", zap.String("type", string(event.Type())), zap.Error(err))
		return err
	}
	return nil
}

func (n *Notifier) message(text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg
}

func (n *Notifier) format(event events.Event) (tgbotapi.MessageConfig, bool) {
	switch e := event.(type) {
	case events.AlertTriggeredEvent:
		a := e.Alert
		return n.message(fmt.Sprintf("%s <b>%s alert</b> %s\n%s %s %.4g (value %.4g)",
			levelIcon(a.Level), strings.ToUpper(a.Level), esc(a.Symbol),
			esc(string(a.Metric)), esc(string(a.Condition)), a.Threshold, a.Value)), true

	case events.ConfirmationRequiredEvent:
		o := e.Pending.Order
		msg := n.message(fmt.Sprintf("⚠️ <b>Hedge needs approval</b> %s\n%s %.6g %s @ %.2f\nnotional $%.2f, expires %s\nid <code>%s</code>",
			esc(e.Symbol), strings.ToUpper(string(o.Side)), o.Size, esc(o.Symbol), o.Price,
			e.Notional, e.Pending.ExpiresAt.UTC().Format(time.RFC3339), esc(e.Pending.ID)))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Approve", "approve:"+e.Pending.ID),
				tgbotapi.NewInlineKeyboardButtonData("Reject", "reject:"+e.Pending.ID),
			),
		)
		return msg, true

	case events.ConfirmationResolvedEvent:
		verdict := "rejected"
		switch {
		case e.TimedOut:
			verdict = "timed out"
		case e.Approved:
			verdict = "approved"
		}
		return n.message(fmt.Sprintf("Confirmation <code>%s</code> for %s %s",
			esc(e.ConfirmationID), esc(e.PositionID), verdict)), true

	case events.HedgeResultEvent:
		r := e.Result
		if r.Success {
			return n.message(fmt.Sprintf("✅ <b>Hedge executed</b> %s\n%s\ncost $%.2f, %s",
				esc(e.Symbol), esc(orderSummary(r.Orders)), r.TotalCost, r.Latency.Round(time.Millisecond))), true
		}
		return n.message(fmt.Sprintf("❌ <b>Hedge failed</b> %s\n%s", esc(e.Symbol), esc(r.Message))), true

	case events.DataHealthEvent:
		if e.Type() == events.DataRecovered {
			return n.message(fmt.Sprintf("Market data for %s recovered", esc(e.Symbol))), true
		}
		return n.message(fmt.Sprintf("📉 <b>Stale data</b> %s after %d misses\n%s",
			esc(e.Symbol), e.Misses, esc(e.LastError))), true

	case events.EmergencyStopEvent:
		return n.message(fmt.Sprintf("🛑 <b>EMERGENCY STOP</b>\n%d monitors stopped, %d confirmations cancelled",
			e.Stopped, e.CancelledConfirmations)), true

	case events.MonitoringStartedEvent:
		return n.message(fmt.Sprintf("Monitoring %s (%s %s %.6g) every %s",
			esc(e.Position.ID), esc(e.Position.Symbol), e.Position.Side, e.Position.Size, e.Interval)), true

	case events.MonitoringStoppedEvent:
		return n.message(fmt.Sprintf("Stopped monitoring %s (%s)", esc(e.PositionID), esc(e.Reason))), true
	}
	return tgbotapi.MessageConfig{}, false
}

func orderSummary(orders []domain.HedgeOrder) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		parts = append(parts, fmt.Sprintf("%s %.6g %s", strings.ToUpper(string(o.Side)), o.Size, o.Symbol))
	}
	return strings.Join(parts, ", ")
}

func levelIcon(level string) string {
	switch level {
	case "critical":
		return "🔴"
	case "warning":
		return "🟠"
	default:
		return "🔵"
	}
}

func esc(s string) string {
	return html.EscapeString(s)
}
