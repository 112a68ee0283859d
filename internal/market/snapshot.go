// Package market defines the immutable per-cycle market snapshot consumed by
// the pricing and risk layers, plus validation for ill-formed quote data.
package market

import (
	"fmt"
	"time"
)

// Snapshot captures one polling cycle's view of a single event contract.
// Prices and probabilities are in cents (0-100). A Snapshot is never mutated
// after construction.
type Snapshot struct {
	Ticker string `json:"ticker"`
	Sport  string `json:"sport"`

	FairValueCents int `json:"fair_value_cents"`
	BestBidCents   int `json:"best_bid_cents"`
	BestAskCents   int `json:"best_ask_cents"`

	// Volatility is informational only. It is carried for telemetry and is
	// deliberately not an input to pricing.
	Volatility float64 `json:"volatility,omitempty"`

	// Volume is the liquidity proxy used by the risk gate.
	Volume int `json:"volume"`

	CommenceTime time.Time `json:"commence_time"`
	TakenAt      time.Time `json:"taken_at"`
}

// InvalidSnapshotError reports quote data that must not be priced against.
type InvalidSnapshotError struct {
	Ticker         string
	Reason         string
	FairValueCents int
	BestBidCents   int
	BestAskCents   int
}

func (e *InvalidSnapshotError) Error() string {
	return fmt.Sprintf(
		"invalid snapshot %s: %s (fv=%d bid=%d ask=%d)",
		e.Ticker, e.Reason, e.FairValueCents, e.BestBidCents, e.BestAskCents,
	)
}

// Validate rejects snapshots with out-of-range probabilities or a crossed
// book. Callers discard invalid snapshots instead of pricing them.
func (s Snapshot) Validate() error {
	if s.Ticker == "" {
		return &InvalidSnapshotError{Ticker: s.Ticker, Reason: "empty ticker"}
	}
	if s.FairValueCents < 0 || s.FairValueCents > 100 {
		return s.invalid("fair value out of range")
	}
	if s.BestBidCents < 0 || s.BestBidCents > 100 {
		return s.invalid("best bid out of range")
	}
	if s.BestAskCents < 0 || s.BestAskCents > 100 {
		return s.invalid("best ask out of range")
	}
	if s.BestBidCents > s.BestAskCents {
		return s.invalid("crossed book")
	}
	return nil
}

func (s Snapshot) invalid(reason string) error {
	return &InvalidSnapshotError{
		Ticker:         s.Ticker,
		Reason:         reason,
		FairValueCents: s.FairValueCents,
		BestBidCents:   s.BestBidCents,
		BestAskCents:   s.BestAskCents,
	}
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}

// HoursUntilStart returns the signed hours between now and the event start.
// Negative once the event has begun.
func (s Snapshot) HoursUntilStart(now time.Time) float64 {
	return s.CommenceTime.Sub(now).Hours()
}
