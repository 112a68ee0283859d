package portfolio

import (
	"sync"
	"testing"
	"time"
)

func TestRecordEntryAndExit(t *testing.T) {
	tr := NewTracker()
	err := tr.RecordEntry(Position{
		Ticker:          "NBA-LAL-WIN",
		Sport:           "nba",
		Quantity:        10,
		EntryPriceCents: 45,
		EntryFeeCents:   8,
		FilledAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	p, ok := tr.Get("NBA-LAL-WIN")
	if !ok {
		t.Fatalf("position missing")
	}
	if p.Status != StatusOpen {
		t.Fatalf("status=%s want open", p.Status)
	}
	if got := p.EntryCostCents(); got != 458 {
		t.Fatalf("entry cost=%d want 458", got)
	}

	exited, ok := tr.RecordExit("NBA-LAL-WIN")
	if !ok || exited.Quantity != 10 {
		t.Fatalf("exit=%+v ok=%v", exited, ok)
	}
	if tr.HasOpen("NBA-LAL-WIN") {
		t.Fatalf("position still open after exit")
	}
}

func TestDuplicateEntryRejected(t *testing.T) {
	tr := NewTracker()
	pos := Position{Ticker: "T1", Sport: "nba", Quantity: 1, EntryPriceCents: 50}
	if err := tr.RecordEntry(pos); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if err := tr.RecordEntry(pos); err == nil {
		t.Fatalf("duplicate entry accepted")
	}
	if got := tr.OpenCount(); got != 1 {
		t.Fatalf("open count=%d want 1", got)
	}
}

func TestZeroQuantityRejected(t *testing.T) {
	tr := NewTracker()
	if err := tr.RecordEntry(Position{Ticker: "T1", Quantity: 0}); err == nil {
		t.Fatalf("zero quantity accepted")
	}
}

func TestSportCounts(t *testing.T) {
	tr := NewTracker()
	for _, p := range []Position{
		{Ticker: "A", Sport: "nba", Quantity: 1, EntryPriceCents: 50},
		{Ticker: "B", Sport: "nba", Quantity: 1, EntryPriceCents: 50},
		{Ticker: "C", Sport: "nfl", Quantity: 1, EntryPriceCents: 50},
	} {
		if err := tr.RecordEntry(p); err != nil {
			t.Fatalf("entry %s: %v", p.Ticker, err)
		}
	}
	if got := tr.OpenCountForSport("nba"); got != 2 {
		t.Fatalf("nba count=%d want 2", got)
	}
	if got := tr.OpenCountForSport("nfl"); got != 1 {
		t.Fatalf("nfl count=%d want 1", got)
	}
	if got := tr.OpenCount(); got != 3 {
		t.Fatalf("open count=%d want 3", got)
	}
}

func TestSetSellPrice(t *testing.T) {
	tr := NewTracker()
	_ = tr.RecordEntry(Position{Ticker: "T1", Sport: "nba", Quantity: 1, EntryPriceCents: 50})
	if !tr.SetSellPrice("T1", 57) {
		t.Fatalf("set sell price failed")
	}
	p, _ := tr.Get("T1")
	if p.SellPriceCents != 57 {
		t.Fatalf("sell price=%d want 57", p.SellPriceCents)
	}
	if tr.SetSellPrice("MISSING", 50) {
		t.Fatalf("set sell price on missing ticker succeeded")
	}
}

func TestSettle(t *testing.T) {
	tr := NewTracker()
	_ = tr.RecordEntry(Position{Ticker: "T1", Sport: "nba", Quantity: 1, EntryPriceCents: 50})
	p, ok := tr.Settle("T1")
	if !ok || p.Status != StatusSettled {
		t.Fatalf("settle=%+v ok=%v", p, ok)
	}
	if tr.HasOpen("T1") {
		t.Fatalf("settled position still open")
	}
}

func TestConcurrentEntriesSingleWinner(t *testing.T) {
	tr := NewTracker()
	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.RecordEntry(Position{Ticker: "RACE", Sport: "nba", Quantity: 1, EntryPriceCents: 50})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners=%d want exactly 1", winners)
	}
	if got := tr.OpenCount(); got != 1 {
		t.Fatalf("open count=%d want 1", got)
	}
}
