package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
)

// API is the subset of the HTTP API the dashboard uses.
type API interface {
	Positions(ctx context.Context) ([]monitor.Status, error)
	Confirm(ctx context.Context, pendingID string, approve bool) error
	EmergencyStop(ctx context.Context) (monitor.EmergencyReport, error)
}

type tickMsg time.Time

type statusMsg struct {
	statuses []monitor.Status
	err      error
	at       time.Time
}

type actionMsg struct {
	text string
	err  error
}

var columns = []table.Column{
	{Title: "Position", Width: 14},
	{Title: "Symbol", Width: 8},
	{Title: "Side", Width: 5},
	{Title: "Size", Width: 10},
	{Title: "Net Δ", Width: 10},
	{Title: "Exposure", Width: 9},
	{Title: "VaR95", Width: 11},
	{Title: "PnL", Width: 11},
	{Title: "Alert", Width: 10},
	{Title: "Auto", Width: 5},
	{Title: "Pending", Width: 8},
	{Title: "State", Width: 10},
}

// Model is the bubbletea model of the dashboard. It polls the API on a
// fixed interval and sends confirmations and emergency stops.
type Model struct {
	api     API
	refresh time.Duration
	timeout time.Duration

	keys   KeyMap
	help   help.Model
	table  table.Model
	styles styles

	statuses []monitor.Status
	lastSync time.Time
	syncErr  error

	notice    string
	noticeBad bool
	// armed is set while an emergency stop awaits confirmation.
	armed bool

	width  int
	height int
}

func New(api API, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	ts := table.DefaultStyles()
	st := defaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(muted).
		BorderBottom(true).
		Foreground(magenta).
		Bold(true)
	ts.Selected = st.selected
	t.SetStyles(ts)

	return Model{
		api:     api,
		refresh: refresh,
		timeout: 5 * time.Second,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		table:   t,
		styles:  st,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		st, err := m.api.Positions(ctx)
		return statusMsg{statuses: st, err: err, at: time.Now()}
	}
}

func (m Model) confirm(pendingID string, approve bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		verb := "approved"
		if !approve {
			verb = "rejected"
		}
		if err := m.api.Confirm(ctx, pendingID, approve); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("hedge %s %s", pendingID, verb)}
	}
}

func (m Model) emergencyStop() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		rep, err := m.api.EmergencyStop(ctx)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("emergency stop: stopped %d positions, cancelled %d confirmations",
			rep.Stopped, rep.CancelledConfirmations)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height-18))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case statusMsg:
		if msg.err != nil {
			m.syncErr = msg.err
			return m, nil
		}
		m.syncErr = nil
		m.lastSync = msg.at
		m.setStatuses(msg.statuses)
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice, m.noticeBad = msg.err.Error(), true
		} else {
			m.notice, m.noticeBad = msg.text, false
		}
		return m, m.fetch()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.armed {
		m.armed = false
		if key.Matches(msg, m.keys.Confirm) {
			m.notice, m.noticeBad = "sending emergency stop...", false
			return m, m.emergencyStop()
		}
		m.notice, m.noticeBad = "emergency stop cancelled", false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.Approve), key.Matches(msg, m.keys.Reject):
		st := m.selected()
		if st == nil || st.Pending == nil {
			m.notice, m.noticeBad = "no pending hedge on the selected position", true
			return m, nil
		}
		return m, m.confirm(st.Pending.ID, key.Matches(msg, m.keys.Approve))
	case key.Matches(msg, m.keys.Stop):
		m.armed = true
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) setStatuses(statuses []monitor.Status) {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].PositionID < statuses[j].PositionID })
	m.statuses = statuses
	rows := make([]table.Row, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, statusRow(st))
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) selected() *monitor.Status {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.statuses) {
		return nil
	}
	return &m.statuses[i]
}

func statusRow(st monitor.Status) table.Row {
	netDelta, exposure, var95, pnl := "-", "-", "-", "-"
	if st.Metrics != nil {
		netDelta = formatFloat(st.Metrics.NetDelta, 4)
		exposure = fmt.Sprintf("%.1f%%", st.Metrics.Exposure*100)
		var95 = formatFloat(st.Metrics.VaR95, 2)
		pnl = formatFloat(st.Metrics.UnrealizedPnL, 2)
	}
	auto := "off"
	if st.AutoHedge {
		auto = "on"
	}
	pending := ""
	if st.Pending != nil {
		pending = "await"
	}
	state := string(st.Phase)
	if st.Stale {
		state = "stale"
	}
	return table.Row{
		st.PositionID,
		st.Symbol,
		string(st.Position.Side),
		formatFloat(st.Position.Size, 4),
		netDelta,
		exposure,
		var95,
		pnl,
		string(st.AlertState),
		auto,
		pending,
		state,
	}
}

func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func (m Model) View() string {
	var b strings.Builder

	header := m.styles.title.Render("Hedge Bot")
	switch {
	case m.syncErr != nil:
		header += m.styles.bad.Render(" api unreachable: " + m.syncErr.Error())
	case m.lastSync.IsZero():
		header += m.styles.subtle.Render(" connecting...")
	default:
		header += m.styles.subtle.Render(fmt.Sprintf(" %d positions · synced %s",
			len(m.statuses), m.lastSync.Format("15:04:05")))
	}
	b.WriteString(header + "\n")
	b.WriteString(m.styles.panel.Render(m.table.View()) + "\n")

	if st := m.selected(); st != nil {
		b.WriteString(m.styles.panel.Render(m.detailView(*st)) + "\n")
	}

	switch {
	case m.armed:
		b.WriteString(m.styles.prompt.Render("EMERGENCY STOP all positions? y to confirm, any other key cancels") + "\n")
	case m.notice != "" && m.noticeBad:
		b.WriteString(m.styles.bad.Render(m.notice) + "\n")
	case m.notice != "":
		b.WriteString(m.styles.ok.Render(m.notice) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) detailView(st monitor.Status) string {
	var lines []string
	row := func(label, value string) {
		lines = append(lines, m.styles.label.Render(label)+value)
	}

	row("Position", fmt.Sprintf("%s %s %s @ %s", st.PositionID, st.Position.Side,
		formatFloat(st.Position.Size, 4), formatFloat(st.Position.EntryPrice, 2)))
	if met := st.Metrics; met != nil {
		row("Greeks", fmt.Sprintf("Δ %s  Γ %s  Θ %s  V %s", formatFloat(met.Delta, 4),
			formatFloat(met.Gamma, 6), formatFloat(met.Theta, 4), formatFloat(met.Vega, 4)))
		row("Risk", fmt.Sprintf("VaR99 %s  MDD %.2f%%  vol %.2f%%", formatFloat(met.VaR99, 2),
			met.MaxDrawdown*100, met.Volatility*100))
		if met.LowConfidence {
			row("", m.styles.warn.Render("short price history, low confidence"))
		}
	}
	row("Thresholds", fmt.Sprintf("delta %s  var %s", formatFloat(st.Thresholds.Delta, 4),
		formatFloat(st.Thresholds.VaR, 2)))
	row("Alert", m.alertView(st))
	row("Strategy", fmt.Sprintf("%s (auto %t)", st.Strategy, st.AutoHedge))

	if p := st.Pending; p != nil {
		notional, _ := p.Order.Notional().Float64()
		row("Pending", m.styles.warn.Render(fmt.Sprintf("%s %s %s %s ≈ %s, expires %s",
			p.ID, p.Order.Side, formatFloat(p.Order.Size, 4), p.Order.Symbol,
			formatFloat(notional, 2), p.ExpiresAt.Format("15:04:05"))))
	}
	if st.LastDecision != "" {
		row("Decision", st.LastDecision)
	}
	if st.LastError != "" {
		row("Last error", m.styles.bad.Render(st.LastError))
	}
	return strings.Join(lines, "\n")
}

func (m Model) alertView(st monitor.Status) string {
	switch st.AlertState {
	case alert.StateBreached:
		parts := make([]string, 0, len(st.ActiveBreaches))
		for _, br := range st.ActiveBreaches {
			parts = append(parts, fmt.Sprintf("%s %s %s", br.Metric, br.Condition, formatFloat(br.Threshold, 4)))
		}
		return m.styles.bad.Render("breached " + strings.Join(parts, ", "))
	case alert.StateSuppressed:
		s := "suppressed"
		if st.SuppressedUntil != nil {
			s += " until " + st.SuppressedUntil.Format("15:04:05")
		}
		return m.styles.warn.Render(s)
	default:
		return m.styles.ok.Render(string(st.AlertState))
	}
}
