// Package backtest replays recorded market snapshots through the entry and
// exit logic with simulated execution friction, producing fee-aware P&L.
package backtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/config"
	"github.com/brabsmit/kalshi-arb/internal/fees"
	"github.com/brabsmit/kalshi-arb/internal/market"
	"github.com/brabsmit/kalshi-arb/internal/portfolio"
	"github.com/brabsmit/kalshi-arb/internal/risk"
	"github.com/brabsmit/kalshi-arb/internal/sim"
	"github.com/brabsmit/kalshi-arb/internal/store"
	"github.com/brabsmit/kalshi-arb/internal/strategy"
)

// Result is the outcome of one backtest run.
type Result struct {
	RunID   string
	Trades  []store.Trade
	Summary store.Summary
}

// Engine replays a snapshot tape. Each ticker gets its own RNG stream
// derived from the base seed, so adding or removing one market never
// perturbs the outcomes of the others.
type Engine struct {
	cfg      *config.Config
	runID    string
	baseSeed uint64
	trades   *store.TradeStore // optional persistence

	sims map[string]*sim.FillSimulator
}

func New(cfg *config.Config, runID string, baseSeed uint64, trades *store.TradeStore) *Engine {
	return &Engine{
		cfg:      cfg,
		runID:    runID,
		baseSeed: baseSeed,
		trades:   trades,
		sims:     make(map[string]*sim.FillSimulator),
	}
}

func (e *Engine) simFor(ticker string) *sim.FillSimulator {
	s, ok := e.sims[ticker]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(ticker))
		s = sim.NewSeeded(e.simConfig(), e.baseSeed^h.Sum64())
		e.sims[ticker] = s
	}
	return s
}

func (e *Engine) simConfig() sim.Config {
	sc := e.cfg.Simulation
	return sim.Config{
		Enabled:                  sc.Enabled,
		TakerFillRate:            sc.TakerFillRate,
		TakerSlippageMeanCents:   sc.TakerSlippageMeanCents,
		TakerSlippageStdCents:    sc.TakerSlippageStdCents,
		MakerFillRate:            sc.MakerFillRate,
		MakerRequirePriceThrough: sc.MakerRequirePriceThrough,
		ApplyLatency:             sc.ApplyLatency,
		MaxHoldSeconds:           sc.MaxHoldSeconds,
		TimeoutExitSlippageCents: sc.TimeoutExitSlippageCents,
	}
}

// openTrade tracks a simulated position until its exit.
type openTrade struct {
	pos       portfolio.Position
	isTakerIn bool
	lastBid   int
}

// Run replays snaps in time order and returns the completed trades.
// Positions still open when the tape ends are closed at the last seen bid,
// standing in for contract settlement.
func (e *Engine) Run(ctx context.Context, snaps []market.Snapshot) (Result, error) {
	tape := make([]market.Snapshot, len(snaps))
	copy(tape, snaps)
	sort.SliceStable(tape, func(i, j int) bool { return tape[i].TakenAt.Before(tape[j].TakenAt) })

	tracker := portfolio.NewTracker()
	open := make(map[string]*openTrade)
	var completed []store.Trade

	for _, snap := range tape {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if err := snap.Validate(); err != nil {
			continue
		}

		if ot, ok := open[snap.Ticker]; ok {
			if trade, closed := e.stepExit(ot, snap); closed {
				tracker.RecordExit(snap.Ticker)
				delete(open, snap.Ticker)
				completed = append(completed, trade)
			}
			continue
		}

		if trade := e.tryEntry(tracker, snap); trade != nil {
			open[snap.Ticker] = trade
		}
	}

	// Tape exhausted: mark remaining positions to the last seen bid. No
	// exchange fee applies; settlement is fee-free.
	for ticker, ot := range open {
		price := ot.lastBid
		if price < 1 {
			price = 1
		}
		completed = append(completed, e.finishTrade(ot, price, 0, "settlement", ot.pos.FilledAt))
		tracker.RecordExit(ticker)
	}

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].EnteredAt.Before(completed[j].EnteredAt)
	})

	res := Result{RunID: e.runID, Trades: completed}
	for _, t := range completed {
		res.Summary.Trades++
		if t.ProfitCents > 0 {
			res.Summary.Wins++
		}
		res.Summary.ProfitCents += t.ProfitCents
		res.Summary.FeesCents += t.EntryFeeCents + t.ExitFeeCents
		if t.ExitKind == "forced_taker" {
			res.Summary.ForcedExits++
		}
	}

	if e.trades != nil {
		for _, t := range completed {
			if _, err := e.trades.SaveTrade(ctx, t); err != nil {
				return Result{}, fmt.Errorf("persist trade: %w", err)
			}
		}
	}
	return res, nil
}

// tryEntry gates and prices an entry on snap, then rolls the simulator.
func (e *Engine) tryEntry(tracker *portfolio.Tracker, snap market.Snapshot) *openTrade {
	dec := risk.CheckEntry(snap, tracker, noInFlight{}, e.riskLimits(), snap.TakenAt)
	if !dec.OK {
		return nil
	}

	params := e.cfg.Strategy.ForSport(snap.Sport)
	quote := strategy.Price(snap, strategy.Params{
		MarginPercent:       params.MarginPercent,
		TakerFeeBufferCents: params.TakerFeeBufferCents,
	}, snap.TakenAt)
	if quote.SmartBidCents < 1 || quote.EdgeCents <= 0 {
		return nil
	}

	s := e.simFor(snap.Ticker)
	var res sim.Result
	isTaker := quote.Mode == strategy.ModeTaker
	if isTaker {
		res = s.TryTakerEntry(quote.SmartBidCents, snap.BestAskCents)
	} else {
		res = s.TryMakerEntry(quote.SmartBidCents)
	}
	if res.Outcome != sim.Filled {
		return nil
	}

	qty := e.cfg.Risk.OrderQuantity
	fee := fees.Fee(res.PriceCents, qty, isTaker)
	pos := portfolio.Position{
		Ticker:          snap.Ticker,
		Sport:           snap.Sport,
		Quantity:        qty,
		EntryPriceCents: res.PriceCents,
		EntryFeeCents:   fee,
		FilledAt:        snap.TakenAt,
	}
	if err := tracker.RecordEntry(pos); err != nil {
		log.Printf("[warn] backtest entry %s: %v", snap.Ticker, err)
		return nil
	}
	return &openTrade{pos: pos, isTakerIn: isTaker, lastBid: snap.BestBidCents}
}

func (e *Engine) riskLimits() risk.Limits {
	return risk.Limits{
		MaxPositions:               e.cfg.Risk.MaxOpenPositions,
		MaxPositionsPerSport:       e.cfg.Risk.MaxPositionsPerSport,
		MinLiquidity:               e.cfg.Risk.MinVolume,
		MaxBidAskSpreadCents:       e.cfg.Risk.MaxSpreadCents,
		EnableSportDiversification: e.cfg.Risk.EnableSportDiversification,
		EnableLiquidityChecks:      e.cfg.Risk.EnableLiquidityChecks,
		// Snapshot age gating is meaningless on a historical tape.
		MaxSnapshotAge: 0,
	}
}

// stepExit advances an open position by one snapshot: force out past the
// hold limit, otherwise poll the resting sell against the current bid.
func (e *Engine) stepExit(ot *openTrade, snap market.Snapshot) (store.Trade, bool) {
	ot.lastBid = snap.BestBidCents
	s := e.simFor(snap.Ticker)

	if snap.TakenAt.Sub(ot.pos.FilledAt) > s.MaxHold() {
		res := s.ForceTakerExit(snap.BestBidCents)
		return e.closeTradeTaker(ot, res.PriceCents, "forced_taker", snap.TakenAt), true
	}

	if ot.pos.SellPriceCents == 0 {
		breakEven, ok := fees.BreakEvenSellPrice(ot.pos.EntryCostCents(), ot.pos.Quantity, false)
		if !ok {
			// No viable maker exit; wait for the hold timeout to force out.
			return store.Trade{}, false
		}
		params := e.cfg.Strategy.ForSport(snap.Sport)
		ot.pos.SellPriceCents = strategy.ExitPrice(snap.FairValueCents, breakEven, params.AutoCloseMarginPercent)
	}

	res := s.TryMakerExit(ot.pos.SellPriceCents, snap.BestBidCents)
	if res.Outcome != sim.Filled {
		return store.Trade{}, false
	}
	return e.closeTrade(ot, res.PriceCents, "maker", snap.TakenAt), true
}

func (e *Engine) closeTrade(ot *openTrade, exitPriceCents int, kind string, at time.Time) store.Trade {
	exitFee := fees.Fee(exitPriceCents, ot.pos.Quantity, false)
	return e.finishTrade(ot, exitPriceCents, exitFee, kind, at)
}

func (e *Engine) closeTradeTaker(ot *openTrade, exitPriceCents int, kind string, at time.Time) store.Trade {
	exitFee := fees.Fee(exitPriceCents, ot.pos.Quantity, true)
	return e.finishTrade(ot, exitPriceCents, exitFee, kind, at)
}

func (e *Engine) finishTrade(ot *openTrade, exitPriceCents, exitFeeCents int, kind string, at time.Time) store.Trade {
	profit := ot.pos.Quantity*exitPriceCents - exitFeeCents - ot.pos.EntryCostCents()
	return store.Trade{
		RunID:           e.runID,
		Ticker:          ot.pos.Ticker,
		Sport:           ot.pos.Sport,
		Quantity:        ot.pos.Quantity,
		EntryPriceCents: ot.pos.EntryPriceCents,
		EntryFeeCents:   ot.pos.EntryFeeCents,
		ExitPriceCents:  exitPriceCents,
		ExitFeeCents:    exitFeeCents,
		ExitKind:        kind,
		ProfitCents:     profit,
		EnteredAt:       ot.pos.FilledAt,
		ExitedAt:        at,
	}
}

// noInFlight satisfies the risk in-flight view; backtest entries resolve
// within the same tick, so nothing is ever in flight.
type noInFlight struct{}

func (noInFlight) InFlight(string) bool { return false }
