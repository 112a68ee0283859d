package kalshi

import "testing"

func TestBookSnapshotTop(t *testing.T) {
	books := make(map[string]*book)
	raw := []byte(`{"type":"orderbook_snapshot","msg":{"market_ticker":"T","yes":[[44,100],[45,50]],"no":[[52,30],[53,80]]}}`)
	ticker, ok := applyFeedMessage(books, raw)
	if !ok || ticker != "T" {
		t.Fatalf("ticker=%q ok=%v", ticker, ok)
	}
	bid, ask := books["T"].top()
	if bid != 45 {
		t.Fatalf("bid=%d want 45", bid)
	}
	// Best no at 53 means yes ask at 47.
	if ask != 47 {
		t.Fatalf("ask=%d want 47", ask)
	}
}

func TestBookDeltaUpdatesTop(t *testing.T) {
	books := make(map[string]*book)
	applyFeedMessage(books, []byte(`{"type":"orderbook_snapshot","msg":{"market_ticker":"T","yes":[[45,50]],"no":[[53,80]]}}`))

	// New best yes bid appears.
	applyFeedMessage(books, []byte(`{"type":"orderbook_delta","msg":{"market_ticker":"T","price":46,"delta":10,"side":"yes"}}`))
	bid, _ := books["T"].top()
	if bid != 46 {
		t.Fatalf("bid=%d want 46", bid)
	}

	// Best no level drains to zero; no other no levels remain, so the ask
	// side reads empty.
	applyFeedMessage(books, []byte(`{"type":"orderbook_delta","msg":{"market_ticker":"T","price":53,"delta":-80,"side":"no"}}`))
	_, ask := books["T"].top()
	if ask != 0 {
		t.Fatalf("ask=%d want 0 for empty side", ask)
	}
}

func TestSnapshotReplacesBook(t *testing.T) {
	books := make(map[string]*book)
	applyFeedMessage(books, []byte(`{"type":"orderbook_snapshot","msg":{"market_ticker":"T","yes":[[45,50]],"no":[]}}`))
	applyFeedMessage(books, []byte(`{"type":"orderbook_snapshot","msg":{"market_ticker":"T","yes":[[40,10]],"no":[[60,5]]}}`))
	bid, ask := books["T"].top()
	if bid != 40 || ask != 40 {
		t.Fatalf("bid=%d ask=%d want 40/40 after replacement", bid, ask)
	}
}

func TestIgnoresUnknownMessages(t *testing.T) {
	books := make(map[string]*book)
	if _, ok := applyFeedMessage(books, []byte(`{"type":"subscribed","msg":{}}`)); ok {
		t.Fatalf("unknown type applied")
	}
	if _, ok := applyFeedMessage(books, []byte(`not json`)); ok {
		t.Fatalf("bad json applied")
	}
	if len(books) != 0 {
		t.Fatalf("books mutated by ignored messages")
	}
}
