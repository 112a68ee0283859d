// Package risk gates order submission with pure predicates over portfolio
// state. A rejection is a normal outcome, not an error: the first failing
// check is reported as the reason and nothing is merged or retried here.
package risk

import (
	"fmt"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/market"
)

// Reason identifies the first check an entry failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonPositionOpen  Reason = "position_open"
	ReasonPositionCap   Reason = "position_cap"
	ReasonSportCap      Reason = "sport_cap"
	ReasonLowLiquidity  Reason = "low_liquidity"
	ReasonWideSpread    Reason = "wide_spread"
	ReasonOrderInFlight Reason = "order_in_flight"
	ReasonStaleSnapshot Reason = "stale_snapshot"
)

// Limits are the portfolio-level constraints. Each gate is independently
// toggleable.
type Limits struct {
	MaxPositions         int
	MaxPositionsPerSport int
	MinLiquidity         int
	MaxBidAskSpreadCents int
	MaxSnapshotAge       time.Duration

	EnableSportDiversification bool
	EnableLiquidityChecks      bool
}

// PortfolioView is the read-only portfolio state the gates need.
type PortfolioView interface {
	OpenCount() int
	OpenCountForSport(sport string) int
	HasOpen(ticker string) bool
}

// InFlightView reports whether an order is already working for a ticker.
type InFlightView interface {
	InFlight(ticker string) bool
}

// Decision is the outcome of gating one entry.
type Decision struct {
	OK     bool
	Reason Reason
	Detail string
}

func reject(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// CheckEntry evaluates every gate for a new entry on snap, short-circuiting
// at the first failure.
func CheckEntry(snap market.Snapshot, pf PortfolioView, inflight InFlightView, lim Limits, now time.Time) Decision {
	if lim.MaxSnapshotAge > 0 && snap.Age(now) > lim.MaxSnapshotAge {
		return reject(ReasonStaleSnapshot, "snapshot age %s > %s", snap.Age(now).Round(time.Millisecond), lim.MaxSnapshotAge)
	}
	if inflight.InFlight(snap.Ticker) {
		return reject(ReasonOrderInFlight, "order already in flight for %s", snap.Ticker)
	}
	if pf.HasOpen(snap.Ticker) {
		return reject(ReasonPositionOpen, "position already open for %s", snap.Ticker)
	}
	if lim.MaxPositions > 0 && pf.OpenCount() >= lim.MaxPositions {
		return reject(ReasonPositionCap, "open positions %d >= max %d", pf.OpenCount(), lim.MaxPositions)
	}
	if lim.EnableSportDiversification && lim.MaxPositionsPerSport > 0 {
		if n := pf.OpenCountForSport(snap.Sport); n >= lim.MaxPositionsPerSport {
			return reject(ReasonSportCap, "%s positions %d >= max %d", snap.Sport, n, lim.MaxPositionsPerSport)
		}
	}
	if lim.EnableLiquidityChecks {
		if snap.Volume < lim.MinLiquidity {
			return reject(ReasonLowLiquidity, "volume %d < min %d", snap.Volume, lim.MinLiquidity)
		}
		if spread := snap.BestAskCents - snap.BestBidCents; spread > lim.MaxBidAskSpreadCents {
			return reject(ReasonWideSpread, "spread %dc > max %dc", spread, lim.MaxBidAskSpreadCents)
		}
	}
	return Decision{OK: true}
}
