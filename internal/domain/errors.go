package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the control loop.
var (
	ErrGateway             = errors.New("gateway error")
	ErrCalculation         = errors.New("calculation error")
	ErrValidation          = errors.New("validation error")
	ErrExchange            = errors.New("exchange error")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// Boundary errors returned by monitor operations.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyMonitoring   = errors.New("position already monitored")
	ErrPendingConfirmation = errors.New("confirmation already pending")
	ErrStopped             = errors.New("monitor stopped")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Error attaches an operation name to one of the error kinds above.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// GatewayError wraps a market data failure.
func GatewayError(op string, err error) error {
	return &Error{Kind: ErrGateway, Op: op, Err: err}
}

// CalculationError wraps a degenerate risk computation.
func CalculationError(op string, err error) error {
	return &Error{Kind: ErrCalculation, Op: op, Err: err}
}

// ValidationError wraps a rejected hedge order.
func ValidationError(op string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}

// ExchangeError wraps an order rejection or submission timeout.
func ExchangeError(op string, err error) error {
	return &Error{Kind: ErrExchange, Op: op, Err: err}
}
