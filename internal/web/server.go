// Package web serves a read-only status API for the running bot: health,
// open positions, working orders, and session counters.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/brabsmit/kalshi-arb/internal/lifecycle"
	"github.com/brabsmit/kalshi-arb/internal/portfolio"
)

// Status is the session-level view the bot exposes.
type Status struct {
	StartedAt        time.Time `json:"started_at"`
	DryRun           bool      `json:"dry_run"`
	TickersTracked   int       `json:"tickers_tracked"`
	EntriesAttempted int       `json:"entries_attempted"`
	EntriesFilled    int       `json:"entries_filled"`
	ExitsFilled      int       `json:"exits_filled"`
}

// StatusSource supplies the current session counters.
type StatusSource interface {
	Status() Status
}

// Server exposes bot state over HTTP.
type Server struct {
	addr       string
	positions  *portfolio.Tracker
	orders     *lifecycle.Manager
	source     StatusSource
	httpServer *http.Server
}

func NewServer(addr string, positions *portfolio.Tracker, orders *lifecycle.Manager, source StatusSource) *Server {
	return &Server{
		addr:      addr,
		positions: positions,
		orders:    orders,
		source:    source,
	}
}

// Start begins serving; it blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[warn] status server shutdown: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.Status())
}

type positionView struct {
	Ticker          string `json:"ticker"`
	Sport           string `json:"sport"`
	Quantity        int    `json:"quantity"`
	EntryPriceCents int    `json:"entry_price_cents"`
	EntryCostCents  int    `json:"entry_cost_cents"`
	SellPriceCents  int    `json:"sell_price_cents"`
	FilledAt        string `json:"filled_at"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	open := s.positions.All()
	out := make([]positionView, 0, len(open))
	for _, p := range open {
		out = append(out, positionView{
			Ticker:          p.Ticker,
			Sport:           p.Sport,
			Quantity:        p.Quantity,
			EntryPriceCents: p.EntryPriceCents,
			EntryCostCents:  p.EntryCostCents(),
			SellPriceCents:  p.SellPriceCents,
			FilledAt:        p.FilledAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

type orderView struct {
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	PriceCents  int    `json:"price_cents"`
	Quantity    int    `json:"quantity"`
	State       string `json:"state"`
	OrderID     string `json:"order_id"`
	SubmittedAt string `json:"submitted_at"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	working := s.orders.Working()
	out := make([]orderView, 0, len(working))
	for _, o := range working {
		out = append(out, orderView{
			Ticker:      o.Ticker,
			Side:        string(o.Side),
			PriceCents:  o.PriceCents,
			Quantity:    o.Quantity,
			State:       string(o.State),
			OrderID:     o.Handle.OrderID,
			SubmittedAt: o.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
