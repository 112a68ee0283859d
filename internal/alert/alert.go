// Package alert pushes operator notifications over Telegram. The bot sends
// one when an order action exhausts its retries, so a stuck execution path
// gets human eyes instead of silently idling.
package alert

import (
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
)

// Notifier delivers operator alerts. A nil *Notifier drops everything, so
// callers can leave alerting unconfigured.
type Notifier struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// New creates a Telegram notifier. maxRetries and retryDelayBase fall back
// to 3 and 1s.
func New(botToken string, chatID int64, maxRetries int, retryDelayBase time.Duration) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if chatID == 0 {
		return nil, fmt.Errorf("chat id required")
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Notifier{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// OrderActionFailed reports an exhausted order action.
func (n *Notifier) OrderActionFailed(e *lifecycle.OrderActionFailedError) {
	if n == nil || e == nil {
		return
	}
	msg := fmt.Sprintf("⚠️ Order %s failed for %s\nprice=%d¢ qty=%d attempts=%d\n%v",
		e.Action, e.Ticker, e.PriceCents, e.Quantity, e.Attempts, e.Err)
	n.send(msg)
}

// Info sends a freeform operator note (session start/stop, daily summary).
func (n *Notifier) Info(format string, args ...any) {
	if n == nil {
		return
	}
	n.send(fmt.Sprintf(format, args...))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(n.retryDelayBase * time.Duration(i+1))
	}
	log.Printf("[warn] telegram alert dropped after %d retries: %v", n.maxRetries, lastErr)
}
