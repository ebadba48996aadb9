package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of a monitored position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts "long"/"short" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidArgument, s)
}

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionAttrs is set when the monitored position is itself an option.
type OptionAttrs struct {
	Type   OptionType `json:"type"`
	Strike float64    `json:"strike"`
	Expiry time.Time  `json:"expiry"`
}

// Position is a user-declared holding tracked by one control loop.
type Position struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Size       float64      `json:"size"`
	EntryPrice float64      `json:"entry_price"`
	Option     *OptionAttrs `json:"option,omitempty"`

	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	HedgeDelta    float64   `json:"hedge_delta"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SignedSize is the size with the side applied.
func (p Position) SignedSize() float64 {
	return p.Side.Sign() * p.Size
}

// IsOption reports whether the position carries option attributes.
func (p Position) IsOption() bool {
	return p.Option != nil
}

// Validate checks the fields a monitor-start request must carry.
func (p Position) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: position id is required", ErrInvalidArgument)
	case p.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	case p.Side != SideLong && p.Side != SideShort:
		return fmt.Errorf("%w: side must be long or short", ErrInvalidArgument)
	case !(p.Size > 0) || math.IsInf(p.Size, 0):
		return fmt.Errorf("%w: size must be a positive number", ErrInvalidArgument)
	case !(p.EntryPrice >= 0) || math.IsInf(p.EntryPrice, 0):
		return fmt.Errorf("%w: entry price must be a non-negative number", ErrInvalidArgument)
	case !IsFinite(p.HedgeDelta):
		return fmt.Errorf("%w: hedge delta must be a finite number", ErrInvalidArgument)
	}
	if p.Option != nil {
		if p.Option.Type != OptionCall && p.Option.Type != OptionPut {
			return fmt.Errorf("%w: option type must be call or put", ErrInvalidArgument)
		}
		if !(p.Option.Strike > 0) || math.IsInf(p.Option.Strike, 0) {
			return fmt.Errorf("%w: option strike must be a positive number", ErrInvalidArgument)
		}
		if p.Option.Expiry.IsZero() {
			return fmt.Errorf("%w: option expiry is required", ErrInvalidArgument)
		}
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
