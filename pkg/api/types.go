package api

// Request and response types for REST endpoints and WebSocket messages.
// Caller identity is always an explicit request field, never inferred.

// ==============================
// REST Request Types
// ==============================

// TransferRequest is the body of deposit and withdraw calls.
type TransferRequest struct {
	Token  string `json:"token"`  // token address (0x...)
	Caller string `json:"caller"` // user address (0x...)
	Amount uint64 `json:"amount"` // smallest token units
}

// MakeOrderRequest creates a limit order.
type MakeOrderRequest struct {
	Maker        string `json:"maker"`
	TokenToBuy   string `json:"tokenToBuy"`
	AmountToBuy  uint64 `json:"amountToBuy"`
	TokenToSell  string `json:"tokenToSell"`
	AmountToSell uint64 `json:"amountToSell"`
}

// OrderActionRequest cancels or fills an existing order.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}

// ==============================
// REST Response Types
// ==============================

type BalanceResponse struct {
	Token   string `json:"token"`
	User    string `json:"user"`
	Balance uint64 `json:"balance"`
}

type OrderInfo struct {
	ID           uint64 `json:"id"`
	Maker        string `json:"maker"`
	TokenToBuy   string `json:"tokenToBuy"`
	AmountToBuy  uint64 `json:"amountToBuy"`
	TokenToSell  string `json:"tokenToSell"`
	AmountToSell uint64 `json:"amountToSell"`
	Timestamp    int64  `json:"timestamp"`
	Cancelled    bool   `json:"cancelled"`
	Filled       bool   `json:"filled"`
	Status       string `json:"status"` // "open", "cancelled", "filled"
}

type MakeOrderResponse struct {
	ID uint64 `json:"id"`
}

type ConfigInfo struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes a client to event channels.
// Channels: "events" (everything) or "events:<Type>" (one event type).
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
