// Package portfolio owns open positions. At most one open position exists
// per ticker; entries for a ticker that already has one are rejected.
package portfolio

import (
	"fmt"
	"sync"
	"time"
)

// SettlementStatus tracks whether the exchange has settled the contract.
type SettlementStatus string

const (
	StatusOpen    SettlementStatus = "open"
	StatusSettled SettlementStatus = "settled"
)

// Position is one filled entry awaiting exit or settlement.
type Position struct {
	Ticker   string `json:"ticker"`
	Sport    string `json:"sport"`
	Quantity int    `json:"quantity"`

	EntryPriceCents int `json:"entry_price_cents"`
	EntryFeeCents   int `json:"entry_fee_cents"`

	// SellPriceCents is the current resting exit target; zero means no exit
	// order has been priced yet.
	SellPriceCents int `json:"sell_price_cents"`

	FilledAt time.Time        `json:"filled_at"`
	Status   SettlementStatus `json:"status"`
}

// EntryCostCents is the all-in cost of the position including the entry fee.
func (p Position) EntryCostCents() int {
	return p.Quantity*p.EntryPriceCents + p.EntryFeeCents
}

// Tracker is a concurrency-safe registry of open positions.
type Tracker struct {
	mu   sync.RWMutex
	open map[string]*Position
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]*Position)}
}

// RecordEntry registers a confirmed entry fill. It fails if an open position
// already exists for the ticker.
func (t *Tracker) RecordEntry(p Position) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("position quantity must be > 0, got %d", p.Quantity)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[p.Ticker]; ok {
		return fmt.Errorf("open position already exists for %s", p.Ticker)
	}
	p.Status = StatusOpen
	t.open[p.Ticker] = &p
	return nil
}

// SetSellPrice updates the resting exit target for an open position.
func (t *Tracker) SetSellPrice(ticker string, priceCents int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.open[ticker]
	if !ok {
		return false
	}
	p.SellPriceCents = priceCents
	return true
}

// RecordExit removes the position on a confirmed exit fill and returns it.
func (t *Tracker) RecordExit(ticker string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.open[ticker]
	if !ok {
		return Position{}, false
	}
	delete(t.open, ticker)
	return *p, true
}

// Settle marks the position settled and removes it from the open set.
func (t *Tracker) Settle(ticker string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.open[ticker]
	if !ok {
		return Position{}, false
	}
	delete(t.open, ticker)
	p.Status = StatusSettled
	return *p, true
}

// Get returns a copy of the open position for ticker.
func (t *Tracker) Get(ticker string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.open[ticker]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns copies of every open position.
func (t *Tracker) All() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.open))
	for _, p := range t.open {
		out = append(out, *p)
	}
	return out
}

// OpenCount implements the risk portfolio view.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// OpenCountForSport implements the risk portfolio view.
func (t *Tracker) OpenCountForSport(sport string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.open {
		if p.Sport == sport {
			n++
		}
	}
	return n
}

// HasOpen implements the risk portfolio view.
func (t *Tracker) HasOpen(ticker string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[ticker]
	return ok
}
