// Package state persists the bot's open positions between sessions, so a
// restart resumes managing exits instead of orphaning filled entries.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/portfolio"
)

// Checkpoint is the durable session state.
type Checkpoint struct {
	SavedAt   time.Time            `json:"saved_at"`
	Positions []portfolio.Position `json:"positions"`
}

// Load reads the checkpoint at path. A missing file is not an error; the
// second return reports whether a checkpoint was found.
func Load(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return ckpt, true, nil
}

// Save writes the checkpoint atomically via a temp file and rename, so a
// crash mid-write never leaves a truncated state file.
func Save(path string, ckpt Checkpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Restore loads the checkpoint at path and re-registers its open positions
// with the tracker, returning how many were restored.
func Restore(path string, tracker *portfolio.Tracker) (int, error) {
	ckpt, ok, err := Load(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	restored := 0
	for _, p := range ckpt.Positions {
		if p.Status != portfolio.StatusOpen {
			continue
		}
		// Any resting exit order died with the old process. Clearing the
		// sell price makes the next cycle price and submit a fresh one.
		p.SellPriceCents = 0
		if err := tracker.RecordEntry(p); err != nil {
			return restored, fmt.Errorf("restore %s: %w", p.Ticker, err)
		}
		restored++
	}
	return restored, nil
}
