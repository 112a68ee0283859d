package strategy

import (
	"testing"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/market"
)

func snapAt(fv, bid, ask int, hoursUntilStart float64, now time.Time) market.Snapshot {
	return market.Snapshot{
		Ticker:         "TEST-TICKER",
		Sport:          "nba",
		FairValueCents: fv,
		BestBidCents:   bid,
		BestAskCents:   ask,
		CommenceTime:   now.Add(time.Duration(hoursUntilStart * float64(time.Hour))),
		TakenAt:        now,
	}
}

func TestTimeDecayPenalty(t *testing.T) {
	cases := []struct {
		hours float64
		want  float64
	}{
		{24, 0},
		{1, 0},
		{0.5, 2.5},
		{0.25, 3.75},
		{0, 5},
		{-0.083, 5},
		{-10, 5},
	}
	for _, tc := range cases {
		got := TimeDecayPenalty(tc.hours)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("penalty(%v)=%v want %v", tc.hours, got, tc.want)
		}
	}
}

func TestTimeDecayPenalty_MonotoneOnRamp(t *testing.T) {
	prev := TimeDecayPenalty(0)
	for h := 0.05; h <= 1.0; h += 0.05 {
		cur := TimeDecayPenalty(h)
		if cur > prev+1e-9 {
			t.Fatalf("penalty increased from %v to %v at h=%v", prev, cur, h)
		}
		prev = cur
	}
}

func TestPrice_MaxWillingToPayScenarios(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		hours   float64
		wantMax int
	}{
		{"day out", 24, 45},
		{"half hour out", 0.5, 43},
		{"started five minutes ago", -5.0 / 60.0, 42},
	}
	for _, tc := range cases {
		snap := snapAt(50, 30, 60, tc.hours, now)
		q := Price(snap, Params{MarginPercent: 10, TakerFeeBufferCents: 3}, now)
		if q.MaxWillingToPayCents != tc.wantMax {
			t.Fatalf("%s: maxPay=%d want %d", tc.name, q.MaxWillingToPayCents, tc.wantMax)
		}
	}
}

func TestPrice_MaxPayNonIncreasingInMargin(t *testing.T) {
	now := time.Now()
	snap := snapAt(73, 30, 90, 24, now)
	prev := 101
	for m := 0.0; m <= 40; m += 2.5 {
		q := Price(snap, Params{MarginPercent: m}, now)
		if q.MaxWillingToPayCents > prev {
			t.Fatalf("maxPay increased to %d at margin %v", q.MaxWillingToPayCents, m)
		}
		prev = q.MaxWillingToPayCents
	}
}

func TestPrice_TakerModeSelection(t *testing.T) {
	now := time.Now()

	// maxPay=50 (fv=50, margin 0 at 24h); ask 44 <= 50-3 -> taker at ask.
	snap := snapAt(50, 40, 44, 24, now)
	q := Price(snap, Params{MarginPercent: 0, TakerFeeBufferCents: 3}, now)
	if q.Mode != ModeTaker {
		t.Fatalf("mode=%s want taker", q.Mode)
	}
	if q.SmartBidCents != 44 {
		t.Fatalf("smartBid=%d want 44", q.SmartBidCents)
	}

	// ask 48 > 50-3 -> maker at bid+1.
	snap = snapAt(50, 40, 48, 24, now)
	q = Price(snap, Params{MarginPercent: 0, TakerFeeBufferCents: 3}, now)
	if q.Mode != ModeMaker {
		t.Fatalf("mode=%s want maker", q.Mode)
	}
	if q.SmartBidCents != 41 {
		t.Fatalf("smartBid=%d want 41", q.SmartBidCents)
	}
}

func TestPrice_TakerBoundaryExact(t *testing.T) {
	now := time.Now()
	// ask == maxPay - buffer is still taker.
	snap := snapAt(50, 40, 47, 24, now)
	q := Price(snap, Params{MarginPercent: 0, TakerFeeBufferCents: 3}, now)
	if q.Mode != ModeTaker || q.SmartBidCents != 47 {
		t.Fatalf("mode=%s smartBid=%d want taker at 47", q.Mode, q.SmartBidCents)
	}
}

func TestPrice_MakerBidCappedAtMaxPay(t *testing.T) {
	now := time.Now()
	// bid+1 would exceed maxPay=45; smart bid caps there.
	snap := snapAt(50, 47, 60, 24, now)
	q := Price(snap, Params{MarginPercent: 10, TakerFeeBufferCents: 3}, now)
	if q.Mode != ModeMaker {
		t.Fatalf("mode=%s want maker", q.Mode)
	}
	if q.SmartBidCents != 45 {
		t.Fatalf("smartBid=%d want 45", q.SmartBidCents)
	}
}

func TestPrice_ReportsMarginAndEdge(t *testing.T) {
	now := time.Now()
	snap := snapAt(50, 40, 48, 0.5, now)
	q := Price(snap, Params{MarginPercent: 10, TakerFeeBufferCents: 3}, now)
	if q.PenaltyPercent != 2.5 {
		t.Fatalf("penalty=%v want 2.5", q.PenaltyPercent)
	}
	if q.EffectiveMarginPercent != 12.5 {
		t.Fatalf("effMargin=%v want 12.5", q.EffectiveMarginPercent)
	}
	if q.EdgeCents != 50-q.SmartBidCents {
		t.Fatalf("edge=%d want %d", q.EdgeCents, 50-q.SmartBidCents)
	}
}

func TestExitPrice_NeverBelowBreakEven(t *testing.T) {
	for fv := 1; fv <= 99; fv += 7 {
		for be := 1; be <= 99; be += 7 {
			got := ExitPrice(fv, be, 5)
			if got < be && got < 99 {
				t.Fatalf("exit %d below break-even %d (fv=%d)", got, be, fv)
			}
		}
	}
}

func TestExitPrice_MarginOverBase(t *testing.T) {
	// base = max(60, 52) = 60; 60*1.05 = 63.
	if got := ExitPrice(60, 52, 5); got != 63 {
		t.Fatalf("exit=%d want 63", got)
	}
	// break-even dominates: base = 70; 70*1.05 = 73 (floor 73.5 -> 73).
	if got := ExitPrice(60, 70, 5); got != 73 {
		t.Fatalf("exit=%d want 73", got)
	}
}

func TestExitPrice_Clamped(t *testing.T) {
	if got := ExitPrice(99, 99, 50); got != 99 {
		t.Fatalf("exit=%d want 99", got)
	}
	if got := ExitPrice(0, 0, 0); got != 1 {
		t.Fatalf("exit=%d want 1", got)
	}
}
