// Package lifecycle manages per-ticker order state against an execution
// client: submission, cancel/replace, repricing, and fill/cancel races. Each
// ticker's transitions are serialized so two concurrent evaluations cannot
// both move idle -> submitting; distinct tickers proceed in parallel.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// State is the per-ticker lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateResting    State = "resting"
	StateCancelling State = "cancelling"
)

// OrderHandle identifies an order at the exchange.
type OrderHandle struct {
	OrderID string
}

// ExecutionClient is the narrow exchange surface the manager drives.
// Implementations must be safe for concurrent use and bound their calls with
// the supplied context.
type ExecutionClient interface {
	// PlaceOrder submits a limit order. clientOrderID is stable across
	// retries of the same request so a late success after a timeout cannot
	// double-place.
	PlaceOrder(ctx context.Context, ticker string, side Side, priceCents, quantity int, clientOrderID string) (OrderHandle, error)
	CancelOrder(ctx context.Context, handle OrderHandle) error
}

// InFlightOrder records the last submitted order for a ticker.
type InFlightOrder struct {
	Ticker      string
	Side        Side
	PriceCents  int
	Quantity    int
	RequestID   uint64
	Handle      OrderHandle
	State       State
	SubmittedAt time.Time
}

// OrderActionFailedError is returned when the execution path stays unhealthy
// through every retry. The ticker's lifecycle reverts to idle so no phantom
// order lingers. This is the one error category worth alerting an operator.
type OrderActionFailedError struct {
	Ticker     string
	Action     string
	PriceCents int
	Quantity   int
	Attempts   int
	Err        error
}

func (e *OrderActionFailedError) Error() string {
	return fmt.Sprintf(
		"order %s failed for %s after %d attempts (price=%dc qty=%d): %v",
		e.Action, e.Ticker, e.Attempts, e.PriceCents, e.Quantity, e.Err,
	)
}

func (e *OrderActionFailedError) Unwrap() error { return e.Err }

// ErrDuplicate means an identical order is already working; the submission
// was suppressed.
var ErrDuplicate = errors.New("duplicate order suppressed")

// ErrBusy means the ticker is mid-transition or was filled mid-operation;
// the caller should re-evaluate next cycle.
var ErrBusy = errors.New("ticker lifecycle busy")

// Options tune retry and repricing behavior.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MinRepriceTicks int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 250 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
	if o.MinRepriceTicks <= 0 {
		o.MinRepriceTicks = 1
	}
	return o
}

type tickerState struct {
	// opMu serializes lifecycle operations (submit/reprice/cancel) for the
	// ticker. It is held across network calls.
	opMu sync.Mutex

	// mu guards the fields below and is never held across network calls,
	// so HandleFill can interleave with an in-progress submit or cancel.
	mu    sync.Mutex
	state State
	order InFlightOrder
}

// Manager owns the keyed in-flight store (ticker -> lifecycle state).
type Manager struct {
	client ExecutionClient
	opts   Options

	nextRequestID atomic.Uint64

	mu      sync.Mutex
	tickers map[string]*tickerState
}

func NewManager(client ExecutionClient, opts Options) *Manager {
	return &Manager{
		client:  client,
		opts:    opts.withDefaults(),
		tickers: make(map[string]*tickerState),
	}
}

func (m *Manager) ticker(ticker string) *tickerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tickers[ticker]
	if !ok {
		ts = &tickerState{state: StateIdle}
		m.tickers[ticker] = ts
	}
	return ts
}

// Submit places a new order for ticker. From idle it submits; while an
// identical order rests it suppresses the duplicate; while a different order
// rests it cancels and replaces.
func (m *Manager) Submit(ctx context.Context, ticker string, side Side, priceCents, quantity int) (InFlightOrder, error) {
	if quantity <= 0 {
		return InFlightOrder{}, fmt.Errorf("quantity must be > 0, got %d", quantity)
	}
	if priceCents < 1 || priceCents > 99 {
		return InFlightOrder{}, fmt.Errorf("price must be in [1,99], got %d", priceCents)
	}

	ts := m.ticker(ticker)
	ts.opMu.Lock()
	defer ts.opMu.Unlock()

	ts.mu.Lock()
	switch ts.state {
	case StateIdle:
		ts.mu.Unlock()
	case StateResting:
		if ts.order.Side == side && ts.order.PriceCents == priceCents && ts.order.Quantity == quantity {
			order := ts.order
			ts.mu.Unlock()
			return order, ErrDuplicate
		}
		ts.mu.Unlock()
		// Price or size changed: cancel the resting order, then replace.
		if err := m.cancel(ctx, ts); err != nil {
			return InFlightOrder{}, err
		}
		if !m.isIdle(ts) {
			// A fill won the race against the cancel; nothing to replace.
			return InFlightOrder{}, ErrBusy
		}
	default:
		ts.mu.Unlock()
		return InFlightOrder{}, ErrBusy
	}

	return m.submit(ctx, ts, ticker, side, priceCents, quantity)
}

// Reprice cancels and resubmits the resting order at newPriceCents, unless
// the move is below the minimum tick; negligible re-pricings are skipped to
// avoid order churn. It returns the working order and whether it was
// replaced.
func (m *Manager) Reprice(ctx context.Context, ticker string, newPriceCents int) (InFlightOrder, bool, error) {
	ts := m.ticker(ticker)
	ts.opMu.Lock()
	defer ts.opMu.Unlock()

	ts.mu.Lock()
	if ts.state != StateResting {
		ts.mu.Unlock()
		return InFlightOrder{}, false, ErrBusy
	}
	delta := newPriceCents - ts.order.PriceCents
	if delta < 0 {
		delta = -delta
	}
	if delta < m.opts.MinRepriceTicks {
		order := ts.order
		ts.mu.Unlock()
		return order, false, nil
	}
	side, qty := ts.order.Side, ts.order.Quantity
	ts.mu.Unlock()

	if err := m.cancel(ctx, ts); err != nil {
		return InFlightOrder{}, false, err
	}
	if !m.isIdle(ts) {
		return InFlightOrder{}, false, ErrBusy
	}
	order, err := m.submit(ctx, ts, ticker, side, newPriceCents, qty)
	if err != nil {
		return InFlightOrder{}, false, err
	}
	return order, true, nil
}

// Cancel best-effort cancels the working order and returns the ticker to
// idle. Cancelling a ticker with nothing working is a no-op.
func (m *Manager) Cancel(ctx context.Context, ticker string) error {
	ts := m.ticker(ticker)
	ts.opMu.Lock()
	defer ts.opMu.Unlock()

	ts.mu.Lock()
	if ts.state != StateResting {
		ts.mu.Unlock()
		return nil
	}
	ts.mu.Unlock()
	return m.cancel(ctx, ts)
}

// submit transitions idle -> submitting, runs the placement with retries,
// and finishes at resting. ts.opMu must be held; ts.state must be idle.
func (m *Manager) submit(ctx context.Context, ts *tickerState, ticker string, side Side, priceCents, quantity int) (InFlightOrder, error) {
	reqID := m.nextRequestID.Add(1)

	ts.mu.Lock()
	ts.state = StateSubmitting
	ts.order = InFlightOrder{
		Ticker:      ticker,
		Side:        side,
		PriceCents:  priceCents,
		Quantity:    quantity,
		RequestID:   reqID,
		State:       StateSubmitting,
		SubmittedAt: time.Now(),
	}
	ts.mu.Unlock()

	clientOrderID := uuid.NewString()
	handle, err := m.withRetry(ctx, "submit "+ticker, func(ctx context.Context) (OrderHandle, error) {
		return m.client.PlaceOrder(ctx, ticker, side, priceCents, quantity, clientOrderID)
	})

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.state != StateSubmitting || ts.order.RequestID != reqID {
		// The exchange reported a fill while we were still waiting on the
		// placement response; the fill already cleared the state.
		return InFlightOrder{}, ErrBusy
	}

	if err != nil {
		// Treat as not placed: revert to idle so the next cycle can retry
		// cleanly instead of tracking a phantom order.
		ts.state = StateIdle
		ts.order = InFlightOrder{}
		return InFlightOrder{}, &OrderActionFailedError{
			Ticker:     ticker,
			Action:     "submit",
			PriceCents: priceCents,
			Quantity:   quantity,
			Attempts:   m.opts.MaxAttempts,
			Err:        err,
		}
	}

	ts.state = StateResting
	ts.order.Handle = handle
	ts.order.State = StateResting
	return ts.order, nil
}

// cancel transitions resting -> cancelling, runs the cancel with retries,
// and finishes at idle unless a fill wins the race. ts.opMu must be held.
func (m *Manager) cancel(ctx context.Context, ts *tickerState) error {
	ts.mu.Lock()
	if ts.state != StateResting {
		ts.mu.Unlock()
		return nil
	}
	order := ts.order
	ts.state = StateCancelling
	ts.order.State = StateCancelling
	ts.mu.Unlock()

	_, err := m.withRetry(ctx, "cancel "+order.Ticker, func(ctx context.Context) (OrderHandle, error) {
		return OrderHandle{}, m.client.CancelOrder(ctx, order.Handle)
	})

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.state != StateCancelling {
		// A late fill beat the cancel confirmation; the lifecycle records
		// the fill, not the cancellation.
		return nil
	}

	ts.state = StateIdle
	ts.order = InFlightOrder{}
	if err != nil {
		return &OrderActionFailedError{
			Ticker:     order.Ticker,
			Action:     "cancel",
			PriceCents: order.PriceCents,
			Quantity:   order.Quantity,
			Attempts:   m.opts.MaxAttempts,
			Err:        err,
		}
	}
	return nil
}

func (m *Manager) isIdle(ts *tickerState) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state == StateIdle
}

// HandleFill records an exchange-reported fill for ticker and clears the
// in-flight order, winning any race with an outstanding submit or cancel.
// It returns the order that filled.
func (m *Manager) HandleFill(ticker string) (InFlightOrder, bool) {
	m.mu.Lock()
	ts, ok := m.tickers[ticker]
	m.mu.Unlock()
	if !ok {
		return InFlightOrder{}, false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.state == StateIdle {
		return InFlightOrder{}, false
	}
	order := ts.order
	ts.state = StateIdle
	ts.order = InFlightOrder{}
	return order, true
}

// InFlight implements the risk in-flight view.
func (m *Manager) InFlight(ticker string) bool {
	m.mu.Lock()
	ts, ok := m.tickers[ticker]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state != StateIdle
}

// Get returns a copy of the working order for ticker.
func (m *Manager) Get(ticker string) (InFlightOrder, bool) {
	m.mu.Lock()
	ts, ok := m.tickers[ticker]
	m.mu.Unlock()
	if !ok {
		return InFlightOrder{}, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.state == StateIdle {
		return InFlightOrder{}, false
	}
	return ts.order, true
}

// Working returns copies of every non-idle order.
func (m *Manager) Working() []InFlightOrder {
	m.mu.Lock()
	states := make([]*tickerState, 0, len(m.tickers))
	for _, ts := range m.tickers {
		states = append(states, ts)
	}
	m.mu.Unlock()

	out := make([]InFlightOrder, 0, len(states))
	for _, ts := range states {
		ts.mu.Lock()
		if ts.state != StateIdle {
			out = append(out, ts.order)
		}
		ts.mu.Unlock()
	}
	return out
}

// Stale returns working orders submitted more than age ago, for the caller's
// watchdog sweep.
func (m *Manager) Stale(age time.Duration, now time.Time) []InFlightOrder {
	var out []InFlightOrder
	for _, o := range m.Working() {
		if now.Sub(o.SubmittedAt) > age {
			out = append(out, o)
		}
	}
	return out
}

// withRetry runs fn up to MaxAttempts times with doubling backoff, stopping
// early on context cancellation.
func (m *Manager) withRetry(ctx context.Context, what string, fn func(context.Context) (OrderHandle, error)) (OrderHandle, error) {
	var lastErr error
	backoff := m.opts.BackoffBase
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		handle, err := fn(ctx)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return OrderHandle{}, lastErr
		}
		if attempt < m.opts.MaxAttempts {
			log.Printf("[warn] %s attempt %d/%d failed, retrying in %s: %v",
				what, attempt, m.opts.MaxAttempts, backoff, err)
			select {
			case <-ctx.Done():
				return OrderHandle{}, lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.opts.BackoffMax {
				backoff = m.opts.BackoffMax
			}
		}
	}
	return OrderHandle{}, lastErr
}
