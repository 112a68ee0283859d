package bot

import (
	"log"
	"time"

	"github.com/brabsmit/kalshi-arb/internal/jsonl"
)

// decisionEvent is one line in the decision log. Every evaluated snapshot
// produces one, so a session can be audited offline.
type decisionEvent struct {
	TsMs   int64  `json:"ts_ms"`
	Event  string `json:"event"`
	Ticker string `json:"ticker,omitempty"`
	Sport  string `json:"sport,omitempty"`

	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`

	Mode            string  `json:"mode,omitempty"`
	FairValueCents  int     `json:"fair_value_cents,omitempty"`
	BestBidCents    int     `json:"best_bid_cents,omitempty"`
	BestAskCents    int     `json:"best_ask_cents,omitempty"`
	MaxPayCents     int     `json:"max_pay_cents,omitempty"`
	OrderPriceCents int     `json:"order_price_cents,omitempty"`
	Quantity        int     `json:"quantity,omitempty"`
	EdgeCents       int     `json:"edge_cents,omitempty"`
	MarginPercent   float64 `json:"margin_percent,omitempty"`
	PenaltyPercent  float64 `json:"penalty_percent,omitempty"`

	BreakEvenCents int `json:"break_even_cents,omitempty"`
	TargetCents    int `json:"target_cents,omitempty"`
	ProfitCents    int `json:"profit_cents,omitempty"`

	UptimeMs int64 `json:"uptime_ms,omitempty"`
}

func logDecision(w *jsonl.Writer, e decisionEvent) {
	if w == nil {
		return
	}
	if e.TsMs == 0 {
		e.TsMs = time.Now().UnixMilli()
	}
	if err := w.Append(e); err != nil {
		log.Printf("[warn] decision log write: %v", err)
	}
}
