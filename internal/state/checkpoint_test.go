package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/portfolio"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	want := Checkpoint{
		SavedAt: time.Now().UTC().Truncate(time.Second),
		Positions: []portfolio.Position{
			{Ticker: "A", Sport: "nba", Quantity: 10, EntryPriceCents: 45, EntryFeeCents: 8, Status: portfolio.StatusOpen},
		},
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(got.Positions) != 1 || got.Positions[0] != want.Positions[0] {
		t.Fatalf("positions=%+v", got.Positions)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, ok, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file errored: %v", err)
	}
	if ok {
		t.Fatalf("missing file reported found")
	}
}

func TestEmptyPathIsNoop(t *testing.T) {
	if err := Save("", Checkpoint{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := Load(""); ok || err != nil {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	err := Save(path, Checkpoint{
		SavedAt: time.Now(),
		Positions: []portfolio.Position{
			{Ticker: "A", Sport: "nba", Quantity: 10, EntryPriceCents: 45, SellPriceCents: 52, Status: portfolio.StatusOpen},
			{Ticker: "B", Sport: "nfl", Quantity: 5, EntryPriceCents: 60, Status: portfolio.StatusSettled},
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	tr := portfolio.NewTracker()
	restored, err := Restore(path, tr)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored=%d want 1 (settled positions stay closed)", restored)
	}
	if !tr.HasOpen("A") || tr.HasOpen("B") {
		t.Fatalf("tracker state wrong: A=%v B=%v", tr.HasOpen("A"), tr.HasOpen("B"))
	}
	pos, _ := tr.Get("A")
	if pos.SellPriceCents != 0 {
		t.Fatalf("sell price=%d want 0: the old process's exit order is gone", pos.SellPriceCents)
	}
}
