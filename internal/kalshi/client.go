// Package kalshi wraps the exchange's trade API: order placement and
// cancellation, portfolio queries, and the orderbook WebSocket feed.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiPrefix = "/trade-api/v2"

// Client is an authenticated REST client for the trade API.
type Client struct {
	host       string
	httpClient *http.Client
	auth       Auth
}

func NewClient(host string, auth Auth, timeout time.Duration) (*Client, error) {
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("api host must be http(s), got %q", host)
	}
	if auth == nil {
		auth = NoAuth{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}, nil
}

// CreateOrderRequest is the order placement payload. Prices are integer
// cents; Side is which leg of the contract ("yes"/"no"), Action is
// buy or sell.
type CreateOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPriceCents int    `json:"yes_price"`
}

// Order is the exchange's view of an order.
type Order struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	RemainingQty  int    `json:"remaining_count"`
	YesPriceCents int    `json:"yes_price"`
}

type orderEnvelope struct {
	Order Order `json:"order"`
}

// CreateOrder places a limit order and returns the exchange's record of it.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if req.Count <= 0 {
		return Order{}, fmt.Errorf("order count must be > 0, got %d", req.Count)
	}
	if req.YesPriceCents < 1 || req.YesPriceCents > 99 {
		return Order{}, fmt.Errorf("yes_price must be in [1,99], got %d", req.YesPriceCents)
	}
	if req.Type == "" {
		req.Type = "limit"
	}
	if req.Side == "" {
		req.Side = "yes"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Order{}, err
	}
	var resp orderEnvelope
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/portfolio/orders", nil, body, &resp); err != nil {
		return Order{}, err
	}
	return resp.Order, nil
}

// CancelOrder cancels a resting order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order id required")
	}
	path := apiPrefix + "/portfolio/orders/" + url.PathEscape(orderID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	path := apiPrefix + "/portfolio/orders/" + url.PathEscape(orderID)
	var resp orderEnvelope
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return Order{}, err
	}
	return resp.Order, nil
}

// Balance is the available account balance in cents.
type Balance struct {
	BalanceCents int64 `json:"balance"`
}

func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var resp Balance
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/portfolio/balance", nil, nil, &resp); err != nil {
		return Balance{}, err
	}
	return resp, nil
}

// MarketPosition is an exchange-held position in one market.
type MarketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	ExposureCents  int64  `json:"market_exposure"`
	RealizedCents  int64  `json:"realized_pnl"`
	TotalPaidCents int64  `json:"total_traded"`
}

type positionsEnvelope struct {
	MarketPositions []MarketPosition `json:"market_positions"`
	Cursor          string           `json:"cursor"`
}

// GetPositions pages through all market positions.
func (c *Client) GetPositions(ctx context.Context) ([]MarketPosition, error) {
	var out []MarketPosition
	cursor := ""
	for {
		params := url.Values{}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp positionsEnvelope
		if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/portfolio/positions", params, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.MarketPositions...)
		if resp.Cursor == "" {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	headers, err := c.auth.Headers(method, path)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("kalshi %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}
