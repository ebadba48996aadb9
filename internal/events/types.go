// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
)

// EventType represents the type of event.
type EventType string

const (
	// Monitoring lifecycle
	MonitoringStarted EventType = "monitoring.started"
	MonitoringStopped EventType = "monitoring.stopped"

	// Alerts
	AlertTriggered EventType = "alert.triggered"

	// Hedging
	HedgeExecuted        EventType = "hedge.executed"
	HedgeFailed          EventType = "hedge.failed"
	ConfirmationRequired EventType = "hedge.confirmation_required"
	ConfirmationResolved EventType = "hedge.confirmation_resolved"

	// Market data health
	DataStale     EventType = "data.stale"
	DataRecovered EventType = "data.recovered"

	EmergencyStopped EventType = "emergency.stop"
)

// AllTypes lists every event type, for subscribers that want everything.
var AllTypes = []EventType{
	MonitoringStarted, MonitoringStopped, AlertTriggered,
	HedgeExecuted, HedgeFailed, ConfirmationRequired, ConfirmationResolved,
	DataStale, DataRecovered, EmergencyStopped,
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func base(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventType: t, EventTime: at}
}

// MonitoringStartedEvent is emitted when a control loop starts.
type MonitoringStartedEvent struct {
	BaseEvent
	Position domain.Position
	Interval time.Duration
}

// NewMonitoringStarted builds a MonitoringStartedEvent.
func NewMonitoringStarted(at time.Time, pos domain.Position, interval time.Duration) MonitoringStartedEvent {
	return MonitoringStartedEvent{BaseEvent: base(MonitoringStarted, at), Position: pos, Interval: interval}
}

// MonitoringStoppedEvent is emitted when a control loop ends.
type MonitoringStoppedEvent struct {
	BaseEvent
	PositionID string
	Symbol     string
	Reason     string // "stop", "emergency", "shutdown"
}

// NewMonitoringStopped builds a MonitoringStoppedEvent.
func NewMonitoringStopped(at time.Time, positionID, symbol, reason string) MonitoringStoppedEvent {
	return MonitoringStoppedEvent{BaseEvent: base(MonitoringStopped, at), PositionID: positionID, Symbol: symbol, Reason: reason}
}

// AlertTriggeredEvent carries a newly breached rule.
type AlertTriggeredEvent struct {
	BaseEvent
	Alert alert.Alert
}

// NewAlertTriggered builds an AlertTriggeredEvent.
func NewAlertTriggered(a alert.Alert) AlertTriggeredEvent {
	return AlertTriggeredEvent{BaseEvent: base(AlertTriggered, a.Timestamp), Alert: a}
}

// HedgeResultEvent is emitted for executed and failed hedges.
type HedgeResultEvent struct {
	BaseEvent
	Symbol string
	Result domain.HedgeResult
}

// NewHedgeResult picks HedgeExecuted or HedgeFailed from the result.
func NewHedgeResult(symbol string, res domain.HedgeResult) HedgeResultEvent {
	t := HedgeExecuted
	if !res.Success {
		t = HedgeFailed
	}
	return HedgeResultEvent{BaseEvent: base(t, res.Timestamp), Symbol: symbol, Result: res}
}

// ConfirmationRequiredEvent asks a human to approve a large hedge.
type ConfirmationRequiredEvent struct {
	BaseEvent
	Symbol   string
	Pending  hedge.Pending
	Notional float64
}

// NewConfirmationRequired builds a ConfirmationRequiredEvent.
func NewConfirmationRequired(symbol string, p hedge.Pending) ConfirmationRequiredEvent {
	return ConfirmationRequiredEvent{
		BaseEvent: base(ConfirmationRequired, p.CreatedAt),
		Symbol:    symbol,
		Pending:   p,
		Notional:  p.Order.Notional().InexactFloat64(),
	}
}

// ConfirmationResolvedEvent reports how a pending hedge ended.
type ConfirmationResolvedEvent struct {
	BaseEvent
	ConfirmationID string
	PositionID     string
	Approved       bool
	TimedOut       bool
	Result         domain.HedgeResult
}

// NewConfirmationResolved builds a ConfirmationResolvedEvent.
func NewConfirmationResolved(at time.Time, p hedge.Pending, approved, timedOut bool, res domain.HedgeResult) ConfirmationResolvedEvent {
	return ConfirmationResolvedEvent{
		BaseEvent:      base(ConfirmationResolved, at),
		ConfirmationID: p.ID,
		PositionID:     p.PositionID,
		Approved:       approved,
		TimedOut:       timedOut,
		Result:         res,
	}
}

// DataHealthEvent reports a position's market data going stale or coming back.
type DataHealthEvent struct {
	BaseEvent
	PositionID string
	Symbol     string
	Misses     int
	LastError  string
}

// NewDataStale builds a DataStale event.
func NewDataStale(at time.Time, positionID, symbol string, misses int, lastErr error) DataHealthEvent {
	e := DataHealthEvent{BaseEvent: base(DataStale, at), PositionID: positionID, Symbol: symbol, Misses: misses}
	if lastErr != nil {
		e.LastError = lastErr.Error()
	}
	return e
}

// NewDataRecovered builds a DataRecovered event.
func NewDataRecovered(at time.Time, positionID, symbol string) DataHealthEvent {
	return DataHealthEvent{BaseEvent: base(DataRecovered, at), PositionID: positionID, Symbol: symbol}
}

// EmergencyStopEvent summarises an emergency stop.
type EmergencyStopEvent struct {
	BaseEvent
	Stopped                int
	CancelledConfirmations int
}

// NewEmergencyStop builds an EmergencyStopEvent.
func NewEmergencyStop(at time.Time, stopped, cancelled int) EmergencyStopEvent {
	return EmergencyStopEvent{BaseEvent: base(EmergencyStopped, at), Stopped: stopped, CancelledConfirmations: cancelled}
}
