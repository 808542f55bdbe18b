// Package api exposes the exchange over REST and streams the event
// journal over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/uhyunpark/minidex/pkg/exchange"
)

// Server handles REST API and WebSocket connections
type Server struct {
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
}

// NewServer creates an API server bound to an exchange. Every journal
// event is broadcast to WebSocket subscribers as it is emitted.
func NewServer(ex *exchange.Exchange) *Server {
	s := &Server{
		ex:     ex,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}

	ex.Subscribe(exchange.SinkFunc(func(ev exchange.Event) {
		s.hub.BroadcastToChannel("events", ev)
		s.hub.BroadcastToChannel("events:"+string(ev.Type), ev)
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reads
	api.HandleFunc("/balances/{token}/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Mutations
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full handler chain; used by Start and by tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tok, ok := parseAddress(vars["token"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	addr, ok := parseAddress(vars["address"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	respondJSON(w, BalanceResponse{
		Token:   tok.Hex(),
		User:    addr.Hex(),
		Balance: s.ex.BalanceOf(tok, addr),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.ex.Orders()
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	o, found := s.ex.Order(id)
	if !found {
		respondError(w, http.StatusNotFound, "order id doesn't exist", "")
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events := s.ex.Events()
	if events == nil {
		events = []exchange.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ConfigInfo{
		FeeAccount: s.ex.FeeAccount().Hex(),
		FeePercent: s.ex.FeePercent(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	tok, caller, amount, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := s.ex.Deposit(tok, caller, amount); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceResponse{Token: tok.Hex(), User: caller.Hex(), Balance: s.ex.BalanceOf(tok, caller)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	tok, caller, amount, ok := decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := s.ex.Withdraw(tok, caller, amount); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceResponse{Token: tok.Hex(), User: caller.Hex(), Balance: s.ex.BalanceOf(tok, caller)})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	maker, ok := parseAddress(req.Maker)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid maker address", "")
		return
	}
	tokenToBuy, ok := parseAddress(req.TokenToBuy)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenToBuy address", "")
		return
	}
	tokenToSell, ok := parseAddress(req.TokenToSell)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenToSell address", "")
		return
	}

	id, err := s.ex.MakeOrder(maker, tokenToBuy, req.AmountToBuy, tokenToSell, req.AmountToSell)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, MakeOrderResponse{ID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ex.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, okAddr := parseAddress(req.Caller)
	if !okAddr {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}

	if err := action(caller, id); err != nil {
		respondExchangeError(w, err)
		return
	}

	o, _ := s.ex.Order(id)
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o exchange.Order) OrderInfo {
	status := "open"
	switch {
	case o.Filled:
		status = "filled"
	case o.Cancelled:
		status = "cancelled"
	}
	return OrderInfo{
		ID:           o.ID,
		Maker:        o.Maker.Hex(),
		TokenToBuy:   o.TokenToBuy.Hex(),
		AmountToBuy:  o.AmountToBuy,
		TokenToSell:  o.TokenToSell.Hex(),
		AmountToSell: o.AmountToSell,
		Timestamp:    o.Timestamp,
		Cancelled:    o.Cancelled,
		Filled:       o.Filled,
		Status:       status,
	}
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseOrderID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func decodeTransfer(w http.ResponseWriter, r *http.Request) (tok, caller common.Address, amount uint64, ok bool) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	tok, okTok := parseAddress(req.Token)
	if !okTok {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	caller, okCaller := parseAddress(req.Caller)
	if !okCaller {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	return tok, caller, req.Amount, true
}

// respondExchangeError maps the exchange error taxonomy to HTTP codes.
func respondExchangeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	var exErr *exchange.Error
	if errors.As(err, &exErr) {
		kind = exErr.Kind.String()
		switch exErr.Kind {
		case exchange.KindInvalidAmount:
			status = http.StatusBadRequest
		case exchange.KindOrderNotFound:
			status = http.StatusNotFound
		case exchange.KindUnauthorized:
			status = http.StatusForbidden
		case exchange.KindAlreadyFilled, exchange.KindAlreadyCancelled:
			status = http.StatusConflict
		case exchange.KindInsufficientBalance, exchange.KindTransferRejected:
			status = http.StatusUnprocessableEntity
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: kind, Detail: err.Error()})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Detail: detail})
}
