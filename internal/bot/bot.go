// Package bot runs the live evaluation loop: consume odds snapshots, gate
// and price entries, work resting orders, and manage exits on open
// positions.
package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/alert"
	"github.com/brabsmit/kalshi-arb/internal/config"
	"github.com/brabsmit/kalshi-arb/internal/fees"
	"github.com/brabsmit/kalshi-arb/internal/jsonl"
	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
	"github.com/brabsmit/kalshi-arb/internal/market"
	"github.com/brabsmit/kalshi-arb/internal/portfolio"
	"github.com/brabsmit/kalshi-arb/internal/risk"
	"github.com/brabsmit/kalshi-arb/internal/state"
	"github.com/brabsmit/kalshi-arb/internal/strategy"
	"github.com/brabsmit/kalshi-arb/internal/web"
)

// FillChecker reports whether an exchange order has fully filled. Dry runs
// plug in AlwaysFilled; live wiring polls the exchange.
type FillChecker func(ctx context.Context, orderID string) (bool, error)

// AlwaysFilled treats every order as immediately filled. Dry-run sessions
// use it so the full entry/exit path runs without an exchange.
func AlwaysFilled(ctx context.Context, orderID string) (bool, error) {
	return true, nil
}

// pendingMeta remembers how a submitted order was priced so the fill handler
// can charge the right fee.
type pendingMeta struct {
	side    lifecycle.Side
	isTaker bool
	sport   string
}

// Runner owns one trading session.
type Runner struct {
	cfgw      *config.Watcher
	feed      OddsFeed
	orders    *lifecycle.Manager
	positions *portfolio.Tracker
	alerts    *alert.Notifier
	events    *jsonl.Writer
	checkFill FillChecker
	dryRun    bool

	startedAt time.Time
	now       func() time.Time
	statePath string

	mu      sync.Mutex
	pending map[string]pendingMeta
	stats   web.Status
}

func NewRunner(cfgw *config.Watcher, feed OddsFeed, orders *lifecycle.Manager, positions *portfolio.Tracker, alerts *alert.Notifier, events *jsonl.Writer, checkFill FillChecker, dryRun bool) *Runner {
	return &Runner{
		cfgw:      cfgw,
		feed:      feed,
		orders:    orders,
		positions: positions,
		alerts:    alerts,
		events:    events,
		checkFill: checkFill,
		dryRun:    dryRun,
		startedAt: time.Now(),
		now:       time.Now,
		pending:   make(map[string]pendingMeta),
	}
}

// SetStatePath enables position checkpointing to path after every fill.
func (r *Runner) SetStatePath(path string) { r.statePath = path }

// persistState checkpoints the open positions so a restart can resume
// managing their exits.
func (r *Runner) persistState() {
	if r.statePath == "" {
		return
	}
	err := state.Save(r.statePath, state.Checkpoint{
		SavedAt:   r.now(),
		Positions: r.positions.All(),
	})
	if err != nil {
		log.Printf("[warn] state checkpoint: %v", err)
	}
}

// Status implements the web status source.
func (r *Runner) Status() web.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.StartedAt = r.startedAt
	s.DryRun = r.dryRun
	return s
}

// Run evaluates on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	logDecision(r.events, decisionEvent{Event: "start"})
	defer func() {
		logDecision(r.events, decisionEvent{
			Event:    "summary",
			UptimeMs: time.Since(r.startedAt).Milliseconds(),
		})
	}()

	for {
		interval := r.cfgw.Current().Bot.PollInterval
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		r.runCycle(ctx)
	}
}

// runCycle is one full pass: settle fills, evaluate entries, manage exits,
// sweep stale orders.
func (r *Runner) runCycle(ctx context.Context) {
	cfg := r.cfgw.Current()
	now := r.now()

	r.pollFills(ctx)

	snaps, err := r.feed.Snapshots(ctx)
	if err != nil {
		log.Printf("[warn] odds feed: %v", err)
		return
	}

	r.mu.Lock()
	r.stats.TickersTracked = len(snaps)
	r.mu.Unlock()

	byTicker := make(map[string]market.Snapshot, len(snaps))
	for _, snap := range snaps {
		byTicker[snap.Ticker] = snap
		r.evaluateEntry(ctx, cfg, snap, now)
	}

	r.manageExits(ctx, cfg, byTicker)
	r.sweepStale(ctx, cfg, now)
}

func (r *Runner) evaluateEntry(ctx context.Context, cfg *config.Config, snap market.Snapshot, now time.Time) {
	if err := snap.Validate(); err != nil {
		logDecision(r.events, decisionEvent{
			Event: "invalid_snapshot", Ticker: snap.Ticker, Detail: err.Error(),
		})
		return
	}

	dec := risk.CheckEntry(snap, r.positions, r.orders, risk.Limits{
		MaxPositions:               cfg.Risk.MaxOpenPositions,
		MaxPositionsPerSport:       cfg.Risk.MaxPositionsPerSport,
		MinLiquidity:               cfg.Risk.MinVolume,
		MaxBidAskSpreadCents:       cfg.Risk.MaxSpreadCents,
		MaxSnapshotAge:             cfg.Risk.MaxSnapshotAge,
		EnableSportDiversification: cfg.Risk.EnableSportDiversification,
		EnableLiquidityChecks:      cfg.Risk.EnableLiquidityChecks,
	}, now)
	if !dec.OK {
		logDecision(r.events, decisionEvent{
			Event: "entry_skipped", Ticker: snap.Ticker, Sport: snap.Sport,
			Reason: string(dec.Reason), Detail: dec.Detail,
		})
		return
	}

	params := cfg.Strategy.ForSport(snap.Sport)
	quote := strategy.Price(snap, strategy.Params{
		MarginPercent:       params.MarginPercent,
		TakerFeeBufferCents: params.TakerFeeBufferCents,
	}, now)

	if quote.SmartBidCents < 1 || quote.EdgeCents <= 0 {
		logDecision(r.events, decisionEvent{
			Event: "entry_skipped", Ticker: snap.Ticker, Sport: snap.Sport,
			Reason:         "no_edge",
			FairValueCents: snap.FairValueCents,
			BestBidCents:   snap.BestBidCents,
			BestAskCents:   snap.BestAskCents,
			MaxPayCents:    quote.MaxWillingToPayCents,
			EdgeCents:      quote.EdgeCents,
		})
		return
	}

	qty := cfg.Risk.OrderQuantity
	r.mu.Lock()
	r.stats.EntriesAttempted++
	r.mu.Unlock()

	order, err := r.orders.Submit(ctx, snap.Ticker, lifecycle.SideBuy, quote.SmartBidCents, qty)
	if err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) || errors.Is(err, lifecycle.ErrBusy) {
			return
		}
		var oaf *lifecycle.OrderActionFailedError
		if errors.As(err, &oaf) {
			r.alerts.OrderActionFailed(oaf)
		}
		log.Printf("[warn] entry submit %s: %v", snap.Ticker, err)
		logDecision(r.events, decisionEvent{
			Event: "entry_failed", Ticker: snap.Ticker, Detail: err.Error(),
		})
		return
	}

	r.mu.Lock()
	r.pending[snap.Ticker] = pendingMeta{side: lifecycle.SideBuy, isTaker: quote.Mode == strategy.ModeTaker, sport: snap.Sport}
	r.mu.Unlock()

	log.Printf("[info] entry %s %s %dx@%dc (fair=%dc edge=%dc mode=%s)",
		snap.Ticker, lifecycle.SideBuy, qty, order.PriceCents,
		snap.FairValueCents, quote.EdgeCents, quote.Mode)
	logDecision(r.events, decisionEvent{
		Event: "entry_submitted", Ticker: snap.Ticker, Sport: snap.Sport,
		Mode:            string(quote.Mode),
		FairValueCents:  snap.FairValueCents,
		BestBidCents:    snap.BestBidCents,
		BestAskCents:    snap.BestAskCents,
		MaxPayCents:     quote.MaxWillingToPayCents,
		OrderPriceCents: order.PriceCents,
		Quantity:        qty,
		EdgeCents:       quote.EdgeCents,
		MarginPercent:   quote.EffectiveMarginPercent,
		PenaltyPercent:  quote.PenaltyPercent,
	})
}

// pollFills checks each resting order against the exchange and settles the
// ones that filled.
func (r *Runner) pollFills(ctx context.Context) {
	for _, o := range r.orders.Working() {
		if o.State != lifecycle.StateResting {
			continue
		}
		done, err := r.checkFill(ctx, o.Handle.OrderID)
		if err != nil {
			log.Printf("[warn] fill check %s: %v", o.Ticker, err)
			continue
		}
		if !done {
			continue
		}
		filled, ok := r.orders.HandleFill(o.Ticker)
		if !ok {
			continue
		}
		r.settleFill(filled)
	}
}

// settleFill updates the portfolio for one confirmed fill.
func (r *Runner) settleFill(o lifecycle.InFlightOrder) {
	r.mu.Lock()
	meta := r.pending[o.Ticker]
	delete(r.pending, o.Ticker)
	r.mu.Unlock()

	if o.Side == lifecycle.SideBuy {
		fee := fees.Fee(o.PriceCents, o.Quantity, meta.isTaker)
		err := r.positions.RecordEntry(portfolio.Position{
			Ticker:          o.Ticker,
			Sport:           meta.sport,
			Quantity:        o.Quantity,
			EntryPriceCents: o.PriceCents,
			EntryFeeCents:   fee,
			FilledAt:        r.now(),
		})
		if err != nil {
			log.Printf("[warn] record entry %s: %v", o.Ticker, err)
			return
		}
		r.mu.Lock()
		r.stats.EntriesFilled++
		r.mu.Unlock()
		r.persistState()
		log.Printf("[info] entry filled %s %dx@%dc fee=%dc", o.Ticker, o.Quantity, o.PriceCents, fee)
		logDecision(r.events, decisionEvent{
			Event: "entry_filled", Ticker: o.Ticker,
			OrderPriceCents: o.PriceCents, Quantity: o.Quantity,
		})
		return
	}

	pos, ok := r.positions.RecordExit(o.Ticker)
	if !ok {
		log.Printf("[warn] exit fill without open position for %s", o.Ticker)
		return
	}
	exitFee := fees.Fee(o.PriceCents, o.Quantity, meta.isTaker)
	profit := o.Quantity*o.PriceCents - exitFee - pos.EntryCostCents()
	r.mu.Lock()
	r.stats.ExitsFilled++
	r.mu.Unlock()
	r.persistState()
	log.Printf("[info] exit filled %s %dx@%dc profit=%dc", o.Ticker, o.Quantity, o.PriceCents, profit)
	logDecision(r.events, decisionEvent{
		Event: "exit_filled", Ticker: o.Ticker,
		OrderPriceCents: o.PriceCents, Quantity: o.Quantity,
		ProfitCents: profit,
	})
}

// manageExits prices and works a sell for every open position. An exit is
// never abandoned: when no sell in [1,99] breaks even, the position is left
// for a later pass with fresher prices.
func (r *Runner) manageExits(ctx context.Context, cfg *config.Config, byTicker map[string]market.Snapshot) {
	for _, pos := range r.positions.All() {
		breakEven, ok := fees.BreakEvenSellPrice(pos.EntryCostCents(), pos.Quantity, false)
		if !ok {
			logDecision(r.events, decisionEvent{
				Event: "no_viable_exit", Ticker: pos.Ticker,
				Detail: "no sell price in [1,99] covers entry cost plus fees",
			})
			continue
		}

		fair := 0
		sport := pos.Sport
		if snap, found := byTicker[pos.Ticker]; found {
			fair = snap.FairValueCents
			sport = snap.Sport
		}
		params := cfg.Strategy.ForSport(sport)
		target := strategy.ExitPrice(fair, breakEven, params.AutoCloseMarginPercent)

		if pos.SellPriceCents == 0 {
			order, err := r.orders.Submit(ctx, pos.Ticker, lifecycle.SideSell, target, pos.Quantity)
			if err != nil {
				if errors.Is(err, lifecycle.ErrDuplicate) || errors.Is(err, lifecycle.ErrBusy) {
					continue
				}
				var oaf *lifecycle.OrderActionFailedError
				if errors.As(err, &oaf) {
					r.alerts.OrderActionFailed(oaf)
				}
				log.Printf("[warn] exit submit %s: %v", pos.Ticker, err)
				continue
			}
			r.positions.SetSellPrice(pos.Ticker, order.PriceCents)
			r.mu.Lock()
			r.pending[pos.Ticker] = pendingMeta{side: lifecycle.SideSell}
			r.mu.Unlock()
			log.Printf("[info] exit %s %dx@%dc (break_even=%dc fair=%dc)",
				pos.Ticker, pos.Quantity, order.PriceCents, breakEven, fair)
			logDecision(r.events, decisionEvent{
				Event: "exit_submitted", Ticker: pos.Ticker,
				FairValueCents: fair, BreakEvenCents: breakEven,
				TargetCents: target, Quantity: pos.Quantity,
			})
			continue
		}

		if target != pos.SellPriceCents {
			order, replaced, err := r.orders.Reprice(ctx, pos.Ticker, target)
			if err != nil {
				if errors.Is(err, lifecycle.ErrBusy) {
					continue
				}
				log.Printf("[warn] exit reprice %s: %v", pos.Ticker, err)
				continue
			}
			if replaced {
				r.positions.SetSellPrice(pos.Ticker, order.PriceCents)
				logDecision(r.events, decisionEvent{
					Event: "exit_repriced", Ticker: pos.Ticker,
					BreakEvenCents: breakEven, TargetCents: order.PriceCents,
				})
			}
		}
	}
}

// sweepStale cancels entry orders that sat unfilled past the stale age. Exit
// orders stay working; abandoning one would leave the position unmanaged.
func (r *Runner) sweepStale(ctx context.Context, cfg *config.Config, now time.Time) {
	age := cfg.Lifecycle.StaleOrderAge
	if age <= 0 {
		return
	}
	for _, o := range r.orders.Stale(age, now) {
		if o.Side != lifecycle.SideBuy {
			continue
		}
		if err := r.orders.Cancel(ctx, o.Ticker); err != nil {
			log.Printf("[warn] stale cancel %s: %v", o.Ticker, err)
			continue
		}
		r.mu.Lock()
		delete(r.pending, o.Ticker)
		r.mu.Unlock()
		log.Printf("[info] cancelled stale entry %s (resting %s)", o.Ticker, now.Sub(o.SubmittedAt).Round(time.Second))
		logDecision(r.events, decisionEvent{
			Event: "stale_cancelled", Ticker: o.Ticker,
			OrderPriceCents: o.PriceCents,
		})
	}
}
