package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultWSURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

const defaultPingInterval = 10 * time.Second

// Quote is the top of book for one market, in yes-contract cents.
type Quote struct {
	Ticker       string
	BestBidCents int
	BestAskCents int
	At           time.Time
}

// WSOptions tune the orderbook feed connection.
type WSOptions struct {
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	OutBuffer    int
}

func (o WSOptions) withDefaults() WSOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 256
	}
	return o
}

type wsCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type bookSnapshotMsg struct {
	MarketTicker string  `json:"market_ticker"`
	Yes          [][]int `json:"yes"`
	No           [][]int `json:"no"`
}

type bookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	Delta        int    `json:"delta"`
	Side         string `json:"side"`
}

// book tracks resting size per price level on both legs of one market.
// Yes bids rest on the yes side; asks show up as no-side interest, where a
// resting no at price p is a yes ask at 100-p.
type book struct {
	yes map[int]int
	no  map[int]int
}

func newBook() *book {
	return &book{yes: make(map[int]int), no: make(map[int]int)}
}

func (b *book) applySnapshot(msg bookSnapshotMsg) {
	clear(b.yes)
	clear(b.no)
	for _, lvl := range msg.Yes {
		if len(lvl) == 2 && lvl[1] > 0 {
			b.yes[lvl[0]] = lvl[1]
		}
	}
	for _, lvl := range msg.No {
		if len(lvl) == 2 && lvl[1] > 0 {
			b.no[lvl[0]] = lvl[1]
		}
	}
}

func (b *book) applyDelta(msg bookDeltaMsg) {
	side := b.yes
	if msg.Side == "no" {
		side = b.no
	}
	next := side[msg.Price] + msg.Delta
	if next <= 0 {
		delete(side, msg.Price)
	} else {
		side[msg.Price] = next
	}
}

// top returns the best bid and ask in yes cents; zero means that side of the
// book is empty.
func (b *book) top() (bidCents, askCents int) {
	for price := range b.yes {
		if price > bidCents {
			bidCents = price
		}
	}
	bestNo := 0
	for price := range b.no {
		if price > bestNo {
			bestNo = price
		}
	}
	if bestNo > 0 {
		askCents = 100 - bestNo
	}
	return bidCents, askCents
}

// StartFeed connects to the orderbook WebSocket, subscribes to tickers, and
// emits a Quote whenever a market's top of book changes. It reconnects with
// jittered backoff until ctx is cancelled.
func StartFeed(ctx context.Context, url string, tickers []string, opts WSOptions) (<-chan Quote, <-chan error) {
	opts = opts.withDefaults()
	if url == "" {
		url = DefaultWSURL
	}

	out := make(chan Quote, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("orderbook dial: %w", err))
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runFeedSession(ctx, conn, tickers, opts.PingInterval, out); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return out, errs
}

func runFeedSession(ctx context.Context, conn *websocket.Conn, tickers []string, pingInterval time.Duration, out chan<- Quote) error {
	sub := wsCommand{
		ID:  1,
		Cmd: "subscribe",
		Params: wsParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: tickers,
		},
	}
	subBytes, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("orderbook subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, subBytes); err != nil {
		return fmt.Errorf("orderbook subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if werr != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	books := make(map[string]*book)
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("orderbook read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		ticker, ok := applyFeedMessage(books, msg)
		if !ok {
			continue
		}
		bid, ask := books[ticker].top()
		select {
		case out <- Quote{Ticker: ticker, BestBidCents: bid, BestAskCents: ask, At: time.Now()}:
		default:
		}
	}
}

// applyFeedMessage decodes one feed message into the per-market books and
// returns the affected ticker.
func applyFeedMessage(books map[string]*book, raw []byte) (string, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	switch env.Type {
	case "orderbook_snapshot":
		var snap bookSnapshotMsg
		if err := json.Unmarshal(env.Msg, &snap); err != nil || snap.MarketTicker == "" {
			return "", false
		}
		b, ok := books[snap.MarketTicker]
		if !ok {
			b = newBook()
			books[snap.MarketTicker] = b
		}
		b.applySnapshot(snap)
		return snap.MarketTicker, true
	case "orderbook_delta":
		var delta bookDeltaMsg
		if err := json.Unmarshal(env.Msg, &delta); err != nil || delta.MarketTicker == "" {
			return "", false
		}
		b, ok := books[delta.MarketTicker]
		if !ok {
			b = newBook()
			books[delta.MarketTicker] = b
		}
		b.applyDelta(delta)
		return delta.MarketTicker, true
	default:
		return "", false
	}
}

func emitErrNonBlocking(ch chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
