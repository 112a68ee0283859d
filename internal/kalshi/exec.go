package kalshi

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
)

// Exec adapts the REST client to the order lifecycle's execution interface.
// The lifecycle works in yes-contract terms, so both entries and exits map to
// the yes side with buy/sell actions.
type Exec struct {
	client *Client
}

func NewExec(client *Client) *Exec { return &Exec{client: client} }

func (e *Exec) PlaceOrder(ctx context.Context, ticker string, side lifecycle.Side, priceCents, quantity int, clientOrderID string) (lifecycle.OrderHandle, error) {
	action := "buy"
	if side == lifecycle.SideSell {
		action = "sell"
	}
	order, err := e.client.CreateOrder(ctx, CreateOrderRequest{
		Ticker:        ticker,
		ClientOrderID: clientOrderID,
		Side:          "yes",
		Action:        action,
		Count:         quantity,
		Type:          "limit",
		YesPriceCents: priceCents,
	})
	if err != nil {
		return lifecycle.OrderHandle{}, err
	}
	return lifecycle.OrderHandle{OrderID: order.OrderID}, nil
}

func (e *Exec) CancelOrder(ctx context.Context, handle lifecycle.OrderHandle) error {
	return e.client.CancelOrder(ctx, handle.OrderID)
}

// DryRunExec logs intended orders without touching the exchange. It hands
// back synthetic order ids so the lifecycle machinery runs end to end.
type DryRunExec struct {
	seq atomic.Uint64
}

func NewDryRunExec() *DryRunExec { return &DryRunExec{} }

func (d *DryRunExec) PlaceOrder(ctx context.Context, ticker string, side lifecycle.Side, priceCents, quantity int, clientOrderID string) (lifecycle.OrderHandle, error) {
	id := fmt.Sprintf("dry-%d", d.seq.Add(1))
	log.Printf("[info] dry-run place %s %s %dx@%dc (order_id=%s client_order_id=%s)",
		side, ticker, quantity, priceCents, id, clientOrderID)
	return lifecycle.OrderHandle{OrderID: id}, nil
}

func (d *DryRunExec) CancelOrder(ctx context.Context, handle lifecycle.OrderHandle) error {
	log.Printf("[info] dry-run cancel order_id=%s", handle.OrderID)
	return nil
}
