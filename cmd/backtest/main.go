package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brabsmit/kalshi-arb/internal/backtest"
	"github.com/brabsmit/kalshi-arb/internal/config"
	"github.com/brabsmit/kalshi-arb/internal/dotenv"
	"github.com/brabsmit/kalshi-arb/internal/jsonl"
	"github.com/brabsmit/kalshi-arb/internal/market"
	"github.com/brabsmit/kalshi-arb/internal/store"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var (
		configPath string
		tapePath   string
		runID      string
		seed       uint64
		dbPath     string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	flag.StringVar(&tapePath, "snapshots", "", "JSONL file of recorded market snapshots (required)")
	flag.StringVar(&runID, "run-id", "", "Run identifier (default: random)")
	flag.Uint64Var(&seed, "seed", 0, "Base RNG seed (default: from config)")
	flag.StringVar(&dbPath, "db", "", "SQLite path for trade persistence (default: from config; empty disables)")
	flag.Parse()

	if strings.TrimSpace(tapePath) == "" {
		log.Fatalf("[fatal] --snapshots is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if seed == 0 {
		seed = cfg.Simulation.Seed
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if dbPath == "" {
		dbPath = cfg.Store.DBPath
	}

	tape, err := jsonl.ReadAll[market.Snapshot](tapePath)
	if err != nil {
		log.Fatalf("[fatal] read snapshots: %v", err)
	}

	var trades *store.TradeStore
	if strings.TrimSpace(dbPath) != "" {
		trades, err = store.Open(dbPath)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		defer trades.Close()
	}

	log.Printf("Backtest run %s", runID)
	log.Printf("Tape: %s (%d snapshots)", tapePath, len(tape))
	log.Printf("Seed: %d (friction=%v)", seed, cfg.Simulation.Enabled)

	started := time.Now()
	engine := backtest.New(cfg, runID, seed, trades)
	res, err := engine.Run(context.Background(), tape)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	fmt.Printf("run_id: %s\n", res.RunID)
	fmt.Printf("trades: %d (wins=%d forced_exits=%d)\n",
		res.Summary.Trades, res.Summary.Wins, res.Summary.ForcedExits)
	fmt.Printf("profit: %s (fees=%s)\n",
		formatCents(res.Summary.ProfitCents), formatCents(res.Summary.FeesCents))
	fmt.Printf("elapsed: %s\n", time.Since(started).Round(time.Millisecond))

	for _, tr := range res.Trades {
		fmt.Printf("  %-20s %3dx %2dc -> %2dc  %-12s %s\n",
			tr.Ticker, tr.Quantity, tr.EntryPriceCents, tr.ExitPriceCents,
			tr.ExitKind, formatCents(tr.ProfitCents))
	}
}

func formatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
