package exchange

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names match the original contract events so external indexers
// can consume the journal directly.
type EventType string

const (
	EventDeposit        EventType = "Deposit"
	EventWithdrawal     EventType = "Withdrawal"
	EventCreatedOrder   EventType = "CreatedOrder"
	EventCancelledOrder EventType = "CancelledOrder"
	EventTrade          EventType = "Trade"
)

// TransferDetail carries a deposit or withdrawal. Balance is the user's
// custodied balance for the token after the operation.
type TransferDetail struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  uint64         `json:"amount"`
	Balance uint64         `json:"balance"`
}

// OrderDetail carries order creation and cancellation.
type OrderDetail struct {
	ID           uint64         `json:"id"`
	User         common.Address `json:"user"`
	TokenToBuy   common.Address `json:"tokenToBuy"`
	TokenToSell  common.Address `json:"tokenToSell"`
	AmountToBuy  uint64         `json:"amountToBuy"`
	AmountToSell uint64         `json:"amountToSell"`
	Timestamp    int64          `json:"timestamp"`
}

// TradeDetail carries a fill, framed from the taker's perspective:
// the taker gets the maker's sell leg and gives the maker's buy leg.
type TradeDetail struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // taker
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  uint64         `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive uint64         `json:"amountGive"`
	Creator    common.Address `json:"creator"` // maker
	Timestamp  int64          `json:"timestamp"`
}

// Event is one entry of the exchange's ordered audit trail. Exactly one
// detail field is set, matching Type.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`

	Transfer *TransferDetail `json:"transfer,omitempty"`
	Order    *OrderDetail    `json:"order,omitempty"`
	Trade    *TradeDetail    `json:"trade,omitempty"`
}

// Sink receives every journal entry synchronously, in order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Journal is the append-only event log. Entries are sequence-numbered
// from 1 and emitted to sinks before the owning operation returns.
type Journal struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64
	sinks  []Sink
}

func NewJournal() *Journal {
	return &Journal{}
}

// Attach registers a sink for all future entries.
func (j *Journal) Attach(s Sink) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sinks = append(j.sinks, s)
}

func (j *Journal) append(ev Event) Event {
	j.mu.Lock()
	j.seq++
	ev.Seq = j.seq
	j.events = append(j.events, ev)
	sinks := j.sinks
	j.mu.Unlock()

	for _, s := range sinks {
		s.Emit(ev)
	}
	return ev
}

// Events returns a snapshot copy of the log.
func (j *Journal) Events() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// restore reloads persisted entries; used on startup before any new
// operation runs.
func (j *Journal) restore(events []Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = events
	j.seq = 0
	if n := len(events); n > 0 {
		j.seq = events[n-1].Seq
	}
}
