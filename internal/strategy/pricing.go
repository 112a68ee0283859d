// Package strategy converts a market snapshot into bounded target prices and
// an execution mode. Everything here is a pure function of its inputs; the
// caller supplies the clock.
package strategy

import (
	"math"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/market"
)

// Mode says how an entry order should be worked.
type Mode string

const (
	// ModeMaker posts a resting bid one tick above the best bid.
	ModeMaker Mode = "maker"
	// ModeTaker crosses the spread at the best ask.
	ModeTaker Mode = "taker"
)

// Params are the pricing knobs, already merged for the snapshot's sport.
type Params struct {
	MarginPercent       float64
	TakerFeeBufferCents int
}

// Quote is the result of pricing one snapshot.
type Quote struct {
	MaxWillingToPayCents int
	SmartBidCents        int
	Mode                 Mode

	// EffectiveMarginPercent and PenaltyPercent are reported for telemetry.
	EffectiveMarginPercent float64
	PenaltyPercent         float64

	// EdgeCents is fair value minus the smart bid, before fees.
	EdgeCents int
}

// maxPenaltyPercent caps the time-decay penalty. Lines sharpen fastest right
// before and after the start, but the model does not keep growing the
// penalty once the event is underway.
const maxPenaltyPercent = 5.0

// TimeDecayPenalty returns the margin penalty (percentage points) for an
// event hoursUntilStart away. Zero at one hour or more out, a linear ramp to
// maxPenaltyPercent inside the final hour, and capped there once started.
func TimeDecayPenalty(hoursUntilStart float64) float64 {
	switch {
	case hoursUntilStart >= 1:
		return 0
	case hoursUntilStart >= 0:
		return maxPenaltyPercent * (1 - hoursUntilStart)
	default:
		return maxPenaltyPercent
	}
}

// Price computes the bounded willingness-to-pay and the smart bid for an
// entry on snap.
//
// Volatility is intentionally not part of the margin: in this market it
// signals mispricing opportunity, not risk to avoid.
func Price(snap market.Snapshot, p Params, now time.Time) Quote {
	penalty := TimeDecayPenalty(snap.HoursUntilStart(now))
	effMargin := p.MarginPercent + penalty

	maxPay := int(math.Floor(float64(snap.FairValueCents) * (1 - effMargin/100)))
	if maxPay < 0 {
		maxPay = 0
	}
	if maxPay > 100 {
		maxPay = 100
	}

	q := Quote{
		MaxWillingToPayCents:   maxPay,
		Mode:                   ModeMaker,
		EffectiveMarginPercent: effMargin,
		PenaltyPercent:         penalty,
	}

	// Cross the spread only when the ask still clears the fee buffer; the
	// buffer keeps taker fills profitable after the taker fee.
	if snap.BestAskCents <= maxPay-p.TakerFeeBufferCents {
		q.Mode = ModeTaker
		q.SmartBidCents = snap.BestAskCents
	} else {
		bid := snap.BestBidCents + 1
		if bid > maxPay {
			bid = maxPay
		}
		q.SmartBidCents = bid
	}

	q.EdgeCents = snap.FairValueCents - q.SmartBidCents
	return q
}

// ExitPrice returns the auto-close sell target for an open position: margin
// over the better of fair value and guaranteed break-even, clamped to [1,99].
// The result never undercuts breakEvenCents.
func ExitPrice(fairValueCents, breakEvenCents int, autoCloseMarginPercent float64) int {
	base := fairValueCents
	if breakEvenCents > base {
		base = breakEvenCents
	}
	target := int(math.Floor(float64(base) * (1 + autoCloseMarginPercent/100)))
	if target < 1 {
		target = 1
	}
	if target > 99 {
		target = 99
	}
	return target
}
