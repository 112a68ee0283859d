package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/kalshi"
	"github.com/brabsmit/kalshi-arb/internal/market"
)

type fakeStream struct {
	mu     sync.Mutex
	calls  [][]string
	quotes chan kalshi.Quote
	errs   chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		quotes: make(chan kalshi.Quote, 16),
		errs:   make(chan error, 16),
	}
}

func (s *fakeStream) open(ctx context.Context, tickers []string) (<-chan kalshi.Quote, <-chan error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), tickers...))
	s.mu.Unlock()
	return s.quotes, s.errs
}

func (s *fakeStream) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newLiveFeedForTest(base OddsFeed, stream *fakeStream) *LiveFeed {
	return &LiveFeed{
		base:   base,
		stream: stream.open,
		quotes: make(map[string]kalshi.Quote),
	}
}

func TestLiveFeedOverlaysQuotes(t *testing.T) {
	base := &staticFeed{snaps: []market.Snapshot{{
		Ticker:         "NBA-LAL-WIN",
		Sport:          "nba",
		FairValueCents: 50,
		BestBidCents:   40,
		BestAskCents:   46,
		Volume:         100,
		TakenAt:        time.Now().Add(-10 * time.Second),
	}}}
	stream := newFakeStream()
	feed := newLiveFeedForTest(base, stream)
	defer feed.Close()

	ctx := context.Background()
	if _, err := feed.Snapshots(ctx); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if stream.callCount() != 1 {
		t.Fatalf("stream calls=%d want 1", stream.callCount())
	}

	at := time.Now()
	stream.quotes <- kalshi.Quote{Ticker: "NBA-LAL-WIN", BestBidCents: 44, BestAskCents: 45, At: at}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snaps, err := feed.Snapshots(ctx)
		if err != nil {
			t.Fatalf("snapshots: %v", err)
		}
		if snaps[0].BestBidCents == 44 {
			if snaps[0].BestAskCents != 45 {
				t.Fatalf("ask=%d want 45", snaps[0].BestAskCents)
			}
			if !snaps[0].TakenAt.Equal(at) {
				t.Fatalf("taken_at=%v want %v", snaps[0].TakenAt, at)
			}
			if snaps[0].FairValueCents != 50 {
				t.Fatalf("fair=%d want 50", snaps[0].FairValueCents)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("quote never applied: %+v", snaps[0])
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLiveFeedKeepsBaseWithoutQuote(t *testing.T) {
	base := &staticFeed{snaps: []market.Snapshot{{
		Ticker:       "NFL-KC-WIN",
		BestBidCents: 40,
		BestAskCents: 46,
		TakenAt:      time.Now(),
	}}}
	feed := newLiveFeedForTest(base, newFakeStream())
	defer feed.Close()

	snaps, err := feed.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if snaps[0].BestBidCents != 40 || snaps[0].BestAskCents != 46 {
		t.Fatalf("bid/ask=%d/%d want 40/46", snaps[0].BestBidCents, snaps[0].BestAskCents)
	}
}

func TestLiveFeedResubscribesOnTickerChange(t *testing.T) {
	base := &staticFeed{snaps: []market.Snapshot{{Ticker: "A", TakenAt: time.Now()}}}
	stream := newFakeStream()
	feed := newLiveFeedForTest(base, stream)
	defer feed.Close()

	ctx := context.Background()
	if _, err := feed.Snapshots(ctx); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if _, err := feed.Snapshots(ctx); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if stream.callCount() != 1 {
		t.Fatalf("unchanged tickers resubscribed: calls=%d", stream.callCount())
	}

	base.snaps = []market.Snapshot{{Ticker: "A", TakenAt: time.Now()}, {Ticker: "B", TakenAt: time.Now()}}
	if _, err := feed.Snapshots(ctx); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if stream.callCount() != 2 {
		t.Fatalf("ticker change not resubscribed: calls=%d", stream.callCount())
	}
}
