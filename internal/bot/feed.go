package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/jsonl"
	"github.com/brabsmit/kalshi-arb/internal/market"
)

// OddsFeed supplies the current fair-value snapshots to evaluate. The odds
// model itself lives outside this process; the bot only consumes its output.
type OddsFeed interface {
	Snapshots(ctx context.Context) ([]market.Snapshot, error)
}

// FileFeed reads snapshots from a JSONL file the odds model rewrites. Each
// line is one market.Snapshot; a missing taken_at is stamped with the read
// time so hand-edited files work in dry runs.
type FileFeed struct {
	path string
	now  func() time.Time
}

func NewFileFeed(path string) (*FileFeed, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("odds file path required")
	}
	return &FileFeed{path: path, now: time.Now}, nil
}

func (f *FileFeed) Snapshots(ctx context.Context) ([]market.Snapshot, error) {
	snaps, err := jsonl.ReadAll[market.Snapshot](f.path)
	if err != nil {
		return nil, fmt.Errorf("read odds file: %w", err)
	}
	now := f.now()
	for i := range snaps {
		if snaps[i].TakenAt.IsZero() {
			snaps[i].TakenAt = now
		}
	}
	return snaps, nil
}
