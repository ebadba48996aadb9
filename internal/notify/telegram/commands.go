package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// UpdateSource is the polling side of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Listen handles chat commands until ctx is cancelled. Messages from other
// chats are ignored.
func (n *Notifier) Listen(ctx context.Context, src UpdateSource) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := src.GetUpdatesChan(u)
	defer src.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			n.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update.
func (n *Notifier) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if q.Message == nil || q.Message.Chat == nil || q.Message.Chat.ID != n.chatID {
			return
		}
		reply := n.callback(ctx, q.Data)
		if _, err := n.sender.Request(tgbotapi.NewCallback(q.ID, reply)); err != nil {
			n.logger.Warn("Failed to answer callback", zap.Error(err))
		}
		n.reply(reply)

	case update.Message != nil && update.Message.IsCommand():
		m := update.Message
		if m.Chat == nil || m.Chat.ID != n.chatID {
			n.logger.Warn("Ignoring command from unknown chat")
			return
		}
		n.reply(n.command(ctx, m.Command(), strings.TrimSpace(m.CommandArguments())))
	}
}

func (n *Notifier) callback(ctx context.Context, data string) string {
	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return "unknown action"
	}
	switch action {
	case "approve":
		return n.confirm(ctx, id, true)
	case "reject":
		return n.confirm(ctx, id, false)
	}
	return "unknown action"
}

func (n *Notifier) command(ctx context.Context, cmd, args string) string {
	if n.control == nil {
		return "commands are disabled"
	}
	switch cmd {
	case "status":
		return n.statusText()
	case "approve":
		if args == "" {
			return "usage: /approve <confirmation or position id>"
		}
		return n.confirm(ctx, args, true)
	case "reject":
		if args == "" {
			return "usage: /reject <confirmation or position id>"
		}
		return n.confirm(ctx, args, false)
	case "emergency_stop":
		rep, err := n.control.EmergencyStop(ctx)
		if err != nil {
			return "emergency stop failed: " + err.Error()
		}
		return fmt.Sprintf("stopped %d monitors, cancelled %d confirmations", rep.Stopped, rep.CancelledConfirmations)
	case "help", "start":
		return "/status, /approve <id>, /reject <id>, /emergency_stop"
	}
	return "unknown command"
}

func (n *Notifier) confirm(ctx context.Context, id string, approve bool) string {
	if n.control == nil {
		return "commands are disabled"
	}
	res, err := n.control.ConfirmPendingHedge(ctx, id, approve)
	if err != nil {
		return "confirmation failed: " + err.Error()
	}
	if !approve {
		return "hedge rejected"
	}
	if res.Success {
		return fmt.Sprintf("hedge executed, cost $%.2f", res.TotalCost)
	}
	return "hedge failed: " + res.Message
}

func (n *Notifier) statusText() string {
	list := n.control.ListStatus()
	if len(list) == 0 {
		return "no monitored positions"
	}
	var b strings.Builder
	for _, st := range list {
		fmt.Fprintf(&b, "%s %s %s", st.PositionID, st.Symbol, st.AlertState)
		if st.Metrics != nil {
			fmt.Fprintf(&b, " exposure=%.3f var95=%.2f", st.Metrics.Exposure, st.Metrics.VaR95)
		}
		if st.Stale {
			b.WriteString(" STALE")
		}
		if st.Pending != nil {
			fmt.Fprintf(&b, " pending=%s", st.Pending.ID)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (n *Notifier) reply(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Warn("Failed to send reply", zap.Error(err))
	}
}
