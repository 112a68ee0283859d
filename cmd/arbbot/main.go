package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/alert"
	"github.com/brabsmit/kalshi-arb/internal/bot"
	"github.com/brabsmit/kalshi-arb/internal/config"
	"github.com/brabsmit/kalshi-arb/internal/dotenv"
	"github.com/brabsmit/kalshi-arb/internal/jsonl"
	"github.com/brabsmit/kalshi-arb/internal/kalshi"
	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
	"github.com/brabsmit/kalshi-arb/internal/portfolio"
	"github.com/brabsmit/kalshi-arb/internal/state"
	"github.com/brabsmit/kalshi-arb/internal/web"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfgw, err := config.Watch(configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg := cfgw.Current()

	log.Printf("Kalshi arbitrage bot")
	log.Printf("Config: %s (hot reload)", configPath)
	log.Printf("Odds file: %s", cfg.Bot.OddsFile)
	log.Printf("Poll: %s", cfg.Bot.PollInterval)
	log.Printf("Dry-run: %v", cfg.Kalshi.DryRun)
	log.Printf("Margin: %.1f%% (auto-close %.1f%%, taker buffer %dc)",
		cfg.Strategy.MarginPercent, cfg.Strategy.AutoCloseMarginPercent, cfg.Strategy.TakerFeeBufferCents)

	fileFeed, err := bot.NewFileFeed(cfg.Bot.OddsFile)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	var feed bot.OddsFeed = fileFeed
	if !cfg.Kalshi.DryRun {
		live := bot.NewLiveFeed(fileFeed, cfg.Kalshi.WSURL, kalshi.WSOptions{})
		defer live.Close()
		feed = live
		log.Printf("Quotes: live orderbook feed (%s)", cfg.Kalshi.WSURL)
	}

	exec, checkFill, client, err := buildExecution(cfg)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	orders := lifecycle.NewManager(exec, lifecycle.Options{
		MaxAttempts:     cfg.Lifecycle.MaxAttempts,
		BackoffBase:     cfg.Lifecycle.BackoffBase,
		BackoffMax:      cfg.Lifecycle.BackoffMax,
		MinRepriceTicks: cfg.Lifecycle.MinRepriceTicks,
	})
	positions := portfolio.NewTracker()
	if restored, err := state.Restore(cfg.Bot.StatePath, positions); err != nil {
		log.Printf("[warn] state restore: %v", err)
	} else if restored > 0 {
		log.Printf("Restored %d open position(s) from %s", restored, cfg.Bot.StatePath)
	}
	if client != nil {
		reconcile(context.Background(), client, positions)
	}

	var notifier *alert.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = alert.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			log.Fatalf("[fatal] telegram: %v", err)
		}
		log.Printf("Alerts: telegram chat %d", cfg.Telegram.ChatID)
	} else {
		log.Printf("Alerts: disabled")
	}

	events := jsonl.NewWriter(cfg.Bot.EventsLogPath)
	if events != nil {
		log.Printf("Decision log: %s (JSONL)", cfg.Bot.EventsLogPath)
		defer func() {
			if err := events.Close(); err != nil {
				log.Printf("[warn] decision log close: %v", err)
			}
		}()
	}

	runner := bot.NewRunner(cfgw, feed, orders, positions, notifier, events, checkFill, cfg.Kalshi.DryRun)
	runner.SetStatePath(cfg.Bot.StatePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down…")
		cancel()
	}()

	if cfg.Web.Enabled {
		statusSrv := web.NewServer(cfg.Web.ListenAddr, positions, orders, runner)
		go func() {
			log.Printf("Status API: %s", cfg.Web.ListenAddr)
			if err := statusSrv.Start(); err != nil {
				log.Printf("[warn] status server: %v", err)
			}
		}()
		defer statusSrv.Stop()
	}

	notifier.Info("arbbot session started (dry_run=%v)", cfg.Kalshi.DryRun)
	log.Printf("Listening…")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[fatal] %v", err)
	}
	notifier.Info("arbbot session stopped")
}

// buildExecution wires either the live exchange client or the dry-run stub.
// The client is nil in dry-run mode.
func buildExecution(cfg *config.Config) (lifecycle.ExecutionClient, bot.FillChecker, *kalshi.Client, error) {
	if cfg.Kalshi.DryRun {
		return kalshi.NewDryRunExec(), bot.AlwaysFilled, nil, nil
	}

	auth, err := kalshi.NewKeyAuth(cfg.Kalshi.APIKeyID, cfg.Kalshi.APISecret)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := kalshi.NewClient(cfg.Kalshi.APIBaseURL, auth, cfg.Kalshi.Timeout)
	if err != nil {
		return nil, nil, nil, err
	}
	checkFill := func(ctx context.Context, orderID string) (bool, error) {
		order, err := client.GetOrder(ctx, orderID)
		if err != nil {
			return false, err
		}
		return order.Status == "executed" && order.RemainingQty == 0, nil
	}
	return kalshi.NewExec(client), checkFill, client, nil
}

// reconcile logs the exchange account state at startup and flags positions
// in the checkpoint the exchange no longer shows.
func reconcile(ctx context.Context, client *kalshi.Client, positions *portfolio.Tracker) {
	bal, err := client.GetBalance(ctx)
	if err != nil {
		log.Printf("[warn] balance fetch: %v", err)
	} else {
		log.Printf("Balance: $%d.%02d", bal.BalanceCents/100, bal.BalanceCents%100)
	}

	held, err := client.GetPositions(ctx)
	if err != nil {
		log.Printf("[warn] positions fetch: %v", err)
		return
	}
	byTicker := make(map[string]kalshi.MarketPosition, len(held))
	for _, p := range held {
		byTicker[p.Ticker] = p
	}
	for _, p := range positions.All() {
		if exch, ok := byTicker[p.Ticker]; !ok || exch.Position == 0 {
			log.Printf("[warn] checkpoint holds %s but the exchange shows no position", p.Ticker)
		}
	}
}
