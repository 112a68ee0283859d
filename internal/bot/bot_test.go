package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/config"
	"github.com/brabsmit/kalshi-arb/internal/jsonl"
	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
	"github.com/brabsmit/kalshi-arb/internal/market"
	"github.com/brabsmit/kalshi-arb/internal/portfolio"
	"github.com/brabsmit/kalshi-arb/internal/state"
)

type staticFeed struct {
	snaps []market.Snapshot
}

func (f *staticFeed) Snapshots(ctx context.Context) ([]market.Snapshot, error) {
	return f.snaps, nil
}

type recordingExec struct {
	mu      sync.Mutex
	placed  []string
	cancels int
	seq     int
}

func (e *recordingExec) PlaceOrder(ctx context.Context, ticker string, side lifecycle.Side, priceCents, quantity int, clientOrderID string) (lifecycle.OrderHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.placed = append(e.placed, fmt.Sprintf("%s %s %dx@%d", side, ticker, quantity, priceCents))
	return lifecycle.OrderHandle{OrderID: fmt.Sprintf("ord-%d", e.seq)}, nil
}

func (e *recordingExec) CancelOrder(ctx context.Context, handle lifecycle.OrderHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels++
	return nil
}

func (e *recordingExec) orders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.placed...)
}

func defaultConfig(t *testing.T) *config.Watcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("strategy:\n  margin_percent: 10.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return config.NewStaticWatcher(cfg)
}

func newTestRunner(t *testing.T, feed OddsFeed, exec lifecycle.ExecutionClient, now time.Time) *Runner {
	t.Helper()
	orders := lifecycle.NewManager(exec, lifecycle.Options{
		MaxAttempts: 1,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
	})
	var events *jsonl.Writer
	r := NewRunner(defaultConfig(t), feed, orders, portfolio.NewTracker(), nil, events, AlwaysFilled, true)
	r.now = func() time.Time { return now }
	return r
}

func snapshot(now time.Time) market.Snapshot {
	return market.Snapshot{
		Ticker:         "NBA-LAL-WIN",
		Sport:          "nba",
		FairValueCents: 50,
		BestBidCents:   44,
		BestAskCents:   45,
		Volume:         100,
		CommenceTime:   now.Add(24 * time.Hour),
		TakenAt:        now,
	}
}

func TestFullRoundTrip(t *testing.T) {
	now := time.Now()
	exec := &recordingExec{}
	feed := &staticFeed{snaps: []market.Snapshot{snapshot(now)}}
	r := newTestRunner(t, feed, exec, now)
	ctx := context.Background()

	// Cycle 1: entry submitted. Fair 50 at 10% margin caps pay at 45; the
	// ask misses the taker buffer so a maker bid rests at 45.
	r.runCycle(ctx)
	placed := exec.orders()
	if len(placed) != 1 || placed[0] != "buy NBA-LAL-WIN 10x@45" {
		t.Fatalf("orders=%v", placed)
	}
	if got := r.Status().EntriesAttempted; got != 1 {
		t.Fatalf("entries attempted=%d want 1", got)
	}

	// Cycle 2: the buy fills, the position opens, and an exit is priced.
	// Entry cost 455 means break-even 46; fair 50 plus 5%% targets 52.
	r.runCycle(ctx)
	if got := r.Status().EntriesFilled; got != 1 {
		t.Fatalf("entries filled=%d want 1", got)
	}
	pos, ok := r.positions.Get("NBA-LAL-WIN")
	if !ok {
		t.Fatalf("position missing after fill")
	}
	if pos.EntryCostCents() != 455 {
		t.Fatalf("entry cost=%d want 455", pos.EntryCostCents())
	}
	if pos.SellPriceCents != 52 {
		t.Fatalf("sell price=%d want 52", pos.SellPriceCents)
	}
	placed = exec.orders()
	if len(placed) != 2 || placed[1] != "sell NBA-LAL-WIN 10x@52" {
		t.Fatalf("orders=%v", placed)
	}

	// Cycle 3: the sell fills and the position closes.
	r.runCycle(ctx)
	if got := r.Status().ExitsFilled; got != 1 {
		t.Fatalf("exits filled=%d want 1", got)
	}
	if r.positions.HasOpen("NBA-LAL-WIN") {
		t.Fatalf("position still open after exit fill")
	}
}

func TestCheckpointFollowsFills(t *testing.T) {
	now := time.Now()
	exec := &recordingExec{}
	feed := &staticFeed{snaps: []market.Snapshot{snapshot(now)}}
	r := newTestRunner(t, feed, exec, now)
	statePath := filepath.Join(t.TempDir(), "state.json")
	r.SetStatePath(statePath)
	ctx := context.Background()

	// Entry submits, then fills on the next cycle; the checkpoint should
	// carry the open position so a restart can resume its exit.
	r.runCycle(ctx)
	r.runCycle(ctx)

	restoredTracker := portfolio.NewTracker()
	restored, err := state.Restore(statePath, restoredTracker)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 || !restoredTracker.HasOpen("NBA-LAL-WIN") {
		t.Fatalf("restored=%d open=%v", restored, restoredTracker.HasOpen("NBA-LAL-WIN"))
	}

	// Exit fills; the checkpoint should now be empty.
	r.runCycle(ctx)
	ckpt, ok, err := state.Load(statePath)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if len(ckpt.Positions) != 0 {
		t.Fatalf("positions after exit=%+v", ckpt.Positions)
	}
}

func TestRestoredPositionExitResubmitted(t *testing.T) {
	now := time.Now()
	statePath := filepath.Join(t.TempDir(), "state.json")
	err := state.Save(statePath, state.Checkpoint{
		SavedAt: now,
		Positions: []portfolio.Position{{
			Ticker:          "NBA-LAL-WIN",
			Sport:           "nba",
			Quantity:        10,
			EntryPriceCents: 45,
			EntryFeeCents:   5,
			SellPriceCents:  52, // resting exit died with the old process
			FilledAt:        now.Add(-time.Minute),
			Status:          portfolio.StatusOpen,
		}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := portfolio.NewTracker()
	if n, err := state.Restore(statePath, restored); err != nil || n != 1 {
		t.Fatalf("restore: n=%d err=%v", n, err)
	}

	exec := &recordingExec{}
	feed := &staticFeed{snaps: []market.Snapshot{snapshot(now)}}
	r := newTestRunner(t, feed, exec, now)
	r.positions = restored

	// First cycle after the restart must place a fresh sell; the fresh
	// lifecycle manager has no resting order to reprice.
	r.runCycle(context.Background())
	placed := exec.orders()
	if len(placed) != 1 || placed[0] != "sell NBA-LAL-WIN 10x@52" {
		t.Fatalf("orders=%v want a single resubmitted sell", placed)
	}

	// Second cycle fills it and the position closes out.
	r.runCycle(context.Background())
	if r.positions.HasOpen("NBA-LAL-WIN") {
		t.Fatalf("position still open after restored exit filled")
	}
}

func TestStaleSnapshotSkipped(t *testing.T) {
	now := time.Now()
	snap := snapshot(now)
	snap.TakenAt = now.Add(-2 * time.Minute)
	exec := &recordingExec{}
	r := newTestRunner(t, &staticFeed{snaps: []market.Snapshot{snap}}, exec, now)

	r.runCycle(context.Background())
	if len(exec.orders()) != 0 {
		t.Fatalf("orders placed on stale snapshot: %v", exec.orders())
	}
}

func TestNoEdgeSkipped(t *testing.T) {
	now := time.Now()
	snap := snapshot(now)
	// Fair value so low that the margin leaves nothing to bid.
	snap.FairValueCents = 1
	exec := &recordingExec{}
	r := newTestRunner(t, &staticFeed{snaps: []market.Snapshot{snap}}, exec, now)

	r.runCycle(context.Background())
	if len(exec.orders()) != 0 {
		t.Fatalf("orders placed with no edge: %v", exec.orders())
	}
}

func TestInvalidSnapshotSkipped(t *testing.T) {
	now := time.Now()
	snap := snapshot(now)
	snap.BestBidCents = 60 // crossed book
	snap.BestAskCents = 45
	exec := &recordingExec{}
	r := newTestRunner(t, &staticFeed{snaps: []market.Snapshot{snap}}, exec, now)

	r.runCycle(context.Background())
	if len(exec.orders()) != 0 {
		t.Fatalf("orders placed on invalid snapshot: %v", exec.orders())
	}
}

func TestStaleEntrySwept(t *testing.T) {
	now := time.Now()
	exec := &recordingExec{}
	feed := &staticFeed{snaps: []market.Snapshot{snapshot(now)}}
	r := newTestRunner(t, feed, exec, now)
	// Never report fills so the entry sits resting.
	r.checkFill = func(ctx context.Context, orderID string) (bool, error) { return false, nil }
	ctx := context.Background()

	r.runCycle(ctx)
	if len(exec.orders()) != 1 {
		t.Fatalf("orders=%v", exec.orders())
	}

	// Advance past the stale order age; feed goes quiet so no resubmission.
	later := now.Add(5 * time.Minute)
	r.now = func() time.Time { return later }
	feed.snaps = nil
	r.runCycle(ctx)

	exec.mu.Lock()
	cancels := exec.cancels
	exec.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("cancels=%d want 1", cancels)
	}
	if r.orders.InFlight("NBA-LAL-WIN") {
		t.Fatalf("order still in flight after sweep")
	}
}
