package bot

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/brabsmit/kalshi-arb/internal/kalshi"
	"github.com/brabsmit/kalshi-arb/internal/market"
)

// quoteStream opens a live top-of-book stream for the given tickers. It is a
// field so tests can substitute a fake for the real WebSocket feed.
type quoteStream func(ctx context.Context, tickers []string) (<-chan kalshi.Quote, <-chan error)

// LiveFeed overlays live exchange quotes onto a base odds feed. The base feed
// supplies fair values and metadata; the exchange orderbook supplies the bid
// and ask actually tradeable right now. The subscription follows the base
// feed's ticker set, reconnecting whenever it changes.
type LiveFeed struct {
	base   OddsFeed
	stream quoteStream

	mu         sync.RWMutex
	quotes     map[string]kalshi.Quote
	subscribed []string
	cancel     context.CancelFunc
}

// NewLiveFeed wires base to the exchange orderbook WebSocket at url.
func NewLiveFeed(base OddsFeed, url string, opts kalshi.WSOptions) *LiveFeed {
	return &LiveFeed{
		base: base,
		stream: func(ctx context.Context, tickers []string) (<-chan kalshi.Quote, <-chan error) {
			return kalshi.StartFeed(ctx, url, tickers, opts)
		},
		quotes: make(map[string]kalshi.Quote),
	}
}

func (f *LiveFeed) Snapshots(ctx context.Context) ([]market.Snapshot, error) {
	snaps, err := f.base.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(snaps))
	for _, s := range snaps {
		tickers = append(tickers, s.Ticker)
	}
	f.ensureSubscribed(ctx, tickers)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := range snaps {
		q, ok := f.quotes[snaps[i].Ticker]
		if !ok {
			continue
		}
		if q.BestBidCents > 0 {
			snaps[i].BestBidCents = q.BestBidCents
		}
		if q.BestAskCents > 0 {
			snaps[i].BestAskCents = q.BestAskCents
		}
		if q.At.After(snaps[i].TakenAt) {
			snaps[i].TakenAt = q.At
		}
	}
	return snaps, nil
}

// Close tears down the orderbook subscription.
func (f *LiveFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.subscribed = nil
}

// ensureSubscribed restarts the quote stream when the ticker set changes.
func (f *LiveFeed) ensureSubscribed(ctx context.Context, tickers []string) {
	sorted := append([]string(nil), tickers...)
	sort.Strings(sorted)

	f.mu.Lock()
	defer f.mu.Unlock()
	if equalStrings(f.subscribed, sorted) {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.subscribed = sorted
	if len(sorted) == 0 {
		f.cancel = nil
		return
	}

	feedCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	quotes, errs := f.stream(feedCtx, sorted)
	go f.consume(quotes, errs)
}

func (f *LiveFeed) consume(quotes <-chan kalshi.Quote, errs <-chan error) {
	for quotes != nil || errs != nil {
		select {
		case q, ok := <-quotes:
			if !ok {
				quotes = nil
				continue
			}
			f.mu.Lock()
			f.quotes[q.Ticker] = q
			f.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[warn] orderbook feed: %v", err)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
