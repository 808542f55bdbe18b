// Package exchange implements a custodial token exchange: per-user
// custodied balances, a registry of limit orders, and atomic fill
// settlement with a proportional fee. Every state transition appends one
// entry to an ordered event journal, which is the system's audit trail.
package exchange

import (
	"errors"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/minidex/pkg/token"
	"github.com/uhyunpark/minidex/pkg/util"
)

// Store persists exchange state as it changes. Implementations must be
// safe to call while the exchange lock is held.
type Store interface {
	SaveBalance(rec BalanceRecord) error
	SaveOrder(o *Order) error
	AppendEvent(ev Event) error
}

// Snapshot is the persisted state loaded on startup.
type Snapshot struct {
	Balances []BalanceRecord
	Orders   []*Order
	Events   []Event
}

// Config fixes the exchange identity and fee schedule at construction;
// neither can change afterwards.
type Config struct {
	Address    common.Address // custody address on the token ledger
	FeeAccount common.Address
	FeePercent uint64 // integer percent, fee = amount * FeePercent / 100

	Tokens token.Ledger
	Clock  util.Clock
	Log    *zap.SugaredLogger
	Store  Store // optional
}

// Exchange owns the balance table and the order registry. All mutating
// operations run to completion under one lock and either commit fully or
// leave state untouched.
type Exchange struct {
	mu sync.RWMutex

	address    common.Address
	feeAccount common.Address
	feePercent uint64

	tokens  token.Ledger
	custody *custody
	book    *book
	journal *Journal

	clock util.Clock
	log   *zap.SugaredLogger
	store Store
}

func New(cfg Config) (*Exchange, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("exchange: token ledger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	e := &Exchange{
		address:    cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		tokens:     cfg.Tokens,
		custody:    newCustody(),
		book:       newBook(),
		journal:    NewJournal(),
		clock:      cfg.Clock,
		log:        cfg.Log,
		store:      cfg.Store,
	}

	if e.store != nil {
		e.journal.Attach(SinkFunc(func(ev Event) {
			if err := e.store.AppendEvent(ev); err != nil {
				e.log.Warnw("persist_event_failed", "seq", ev.Seq, "type", ev.Type, "err", err)
			}
		}))
	}
	return e, nil
}

func (e *Exchange) Address() common.Address    { return e.address }
func (e *Exchange) FeeAccount() common.Address { return e.feeAccount }
func (e *Exchange) FeePercent() uint64         { return e.feePercent }

// Restore reloads persisted state. Must be called before the exchange
// serves operations.
func (e *Exchange) Restore(snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.book.restore(snap.Orders); err != nil {
		return err
	}
	e.custody.restore(snap.Balances)
	e.journal.restore(snap.Events)
	return nil
}

// Subscribe attaches a sink to the event journal.
func (e *Exchange) Subscribe(s Sink) { e.journal.Attach(s) }

// Events returns the audit trail in order.
func (e *Exchange) Events() []Event { return e.journal.Events() }

// Deposit pulls amount of tok from caller's external token account into
// custody and credits the caller's custodied balance.
func (e *Exchange) Deposit(tok, caller common.Address, amount uint64) error {
	if amount == 0 {
		return newError(KindInvalidAmount, "deposit amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Reject before touching the token ledger so a failed credit can
	// never strand externally pulled tokens.
	if cur := e.custody.balance(tok, caller); cur+amount < cur {
		return newError(KindInvalidAmount, "deposit overflows custodied balance")
	}

	if err := e.tokens.TransferFrom(tok, e.address, caller, e.address, amount); err != nil {
		return wrapError(KindTransferRejected, "token transfer rejected", err)
	}

	balance, _ := e.custody.credit(tok, caller, amount)
	e.persistBalance(tok, caller)

	e.journal.append(Event{Type: EventDeposit, Transfer: &TransferDetail{
		Token: tok, User: caller, Amount: amount, Balance: balance,
	}})
	e.log.Infow("deposit", "token", tok.Hex(), "user", caller.Hex(), "amount", amount, "balance", balance)
	return nil
}

// Withdraw debits the caller's custodied balance and pushes amount of tok
// back to the caller's external token account.
func (e *Exchange) Withdraw(tok, caller common.Address, amount uint64) error {
	if amount == 0 {
		return newError(KindInvalidAmount, "withdrawal amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.custody.balance(tok, caller) < amount {
		return newError(KindInsufficientBalance, "insufficient balance for withdrawal")
	}

	balance, err := e.custody.debit(tok, caller, amount)
	if err != nil {
		return newError(KindInsufficientBalance, "insufficient balance for withdrawal")
	}

	if err := e.tokens.Transfer(tok, e.address, caller, amount); err != nil {
		// Undo the debit: a failed push must leave state unchanged.
		e.custody.credit(tok, caller, amount)
		return wrapError(KindTransferRejected, "token transfer rejected", err)
	}

	e.persistBalance(tok, caller)

	e.journal.append(Event{Type: EventWithdrawal, Transfer: &TransferDetail{
		Token: tok, User: caller, Amount: amount, Balance: balance,
	}})
	e.log.Infow("withdrawal", "token", tok.Hex(), "user", caller.Hex(), "amount", amount, "balance", balance)
	return nil
}

// BalanceOf returns the caller's custodied balance; zero for any
// (token, user) pair never credited.
func (e *Exchange) BalanceOf(tok, user common.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.custody.balance(tok, user)
}

// MakeOrder registers a limit order offering amountToSell of tokenToSell
// for amountToBuy of tokenToBuy. The maker's custodied sell balance must
// cover the order at creation time, but it is not reserved: fills
// re-validate sufficiency when they settle.
func (e *Exchange) MakeOrder(maker, tokenToBuy common.Address, amountToBuy uint64, tokenToSell common.Address, amountToSell uint64) (uint64, error) {
	if amountToBuy == 0 || amountToSell == 0 {
		return 0, newError(KindInvalidAmount, "order amounts must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.custody.balance(tokenToSell, maker) < amountToSell {
		return 0, newError(KindInsufficientBalance, "insufficient balance for making order")
	}

	o := e.book.add(&Order{
		Maker:        maker,
		TokenToBuy:   tokenToBuy,
		AmountToBuy:  amountToBuy,
		TokenToSell:  tokenToSell,
		AmountToSell: amountToSell,
		Timestamp:    e.clock.Now().Unix(),
	})
	e.persistOrder(o)

	e.journal.append(Event{Type: EventCreatedOrder, Order: &OrderDetail{
		ID: o.ID, User: maker,
		TokenToBuy: tokenToBuy, TokenToSell: tokenToSell,
		AmountToBuy: amountToBuy, AmountToSell: amountToSell,
		Timestamp: o.Timestamp,
	}})
	e.log.Infow("order_created", "id", o.ID, "maker", maker.Hex(),
		"tokenToBuy", tokenToBuy.Hex(), "amountToBuy", amountToBuy,
		"tokenToSell", tokenToSell.Hex(), "amountToSell", amountToSell)
	return o.ID, nil
}

// CancelOrder marks an open order cancelled. Only the maker may cancel,
// and only while the order is still open.
func (e *Exchange) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.get(id)
	if !ok {
		return newError(KindOrderNotFound, "order id doesn't exist")
	}
	if caller != o.Maker {
		return newError(KindUnauthorized, "only order creator can cancel it")
	}
	if o.Filled {
		return newError(KindAlreadyFilled, "order was filled, it is no longer available")
	}
	if o.Cancelled {
		return newError(KindAlreadyCancelled, "order is already cancelled")
	}

	o.Cancelled = true
	e.persistOrder(o)

	e.journal.append(Event{Type: EventCancelledOrder, Order: &OrderDetail{
		ID: o.ID, User: o.Maker,
		TokenToBuy: o.TokenToBuy, TokenToSell: o.TokenToSell,
		AmountToBuy: o.AmountToBuy, AmountToSell: o.AmountToSell,
		Timestamp: e.clock.Now().Unix(),
	}})
	e.log.Infow("order_cancelled", "id", o.ID, "maker", o.Maker.Hex())
	return nil
}

// FillOrder settles an open order against the caller. The taker receives
// the maker's sell leg and pays the buy leg plus a fee of
// amountToBuy * feePercent / 100 (floor), denominated in the buy token
// and credited to the fee account. Settlement is all-or-nothing.
func (e *Exchange) FillOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.get(id)
	if !ok {
		return newError(KindOrderNotFound, "order id doesn't exist")
	}
	if o.Filled {
		return newError(KindAlreadyFilled, "order was filled, it is no longer available")
	}
	if o.Cancelled {
		return newError(KindAlreadyCancelled, "order is already cancelled")
	}

	// amountToBuy is caller-chosen and unbounded, so the fee product is
	// computed in 128 bits and any high word rejects the fill.
	feeHi, feeLo := bits.Mul64(o.AmountToBuy, e.feePercent)
	if feeHi != 0 {
		return newError(KindInvalidAmount, "order fee overflows")
	}
	fee := feeLo / 100

	moves := []Move{
		{Token: o.TokenToSell, From: o.Maker, To: caller, Amount: o.AmountToSell},
		{Token: o.TokenToBuy, From: caller, To: o.Maker, Amount: o.AmountToBuy},
	}
	if fee > 0 {
		moves = append(moves, Move{Token: o.TokenToBuy, From: caller, To: e.feeAccount, Amount: fee})
	}

	if err := e.custody.settle(moves); err != nil {
		return wrapError(KindInsufficientBalance, "insufficient balance for settlement", err)
	}

	o.Filled = true
	e.persistOrder(o)
	e.persistBalance(o.TokenToSell, o.Maker)
	e.persistBalance(o.TokenToSell, caller)
	e.persistBalance(o.TokenToBuy, caller)
	e.persistBalance(o.TokenToBuy, o.Maker)
	e.persistBalance(o.TokenToBuy, e.feeAccount)

	e.journal.append(Event{Type: EventTrade, Trade: &TradeDetail{
		ID: o.ID, User: caller,
		TokenGet: o.TokenToBuy, AmountGet: o.AmountToBuy,
		TokenGive: o.TokenToSell, AmountGive: o.AmountToSell,
		Creator: o.Maker, Timestamp: e.clock.Now().Unix(),
	}})
	e.log.Infow("trade", "id", o.ID, "taker", caller.Hex(), "maker", o.Maker.Hex(), "fee", fee)
	return nil
}

// OrdersCount returns how many orders have ever been created.
func (e *Exchange) OrdersCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.count()
}

// OrderCancelled reports the cancelled flag; false for ids never issued.
func (e *Exchange) OrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.get(id)
	return ok && o.Cancelled
}

// OrderFilled reports the filled flag; false for ids never issued.
func (e *Exchange) OrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.get(id)
	return ok && o.Filled
}

// Order returns a copy of the order record.
func (e *Exchange) Order(id uint64) (Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.get(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of every order in creation order.
func (e *Exchange) Orders() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.book.all()
	out := make([]Order, len(all))
	for i, o := range all {
		out[i] = *o
	}
	return out
}

// Balances returns the non-zero balance table; used by persistence tests
// and conservation checks.
func (e *Exchange) Balances() []BalanceRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []BalanceRecord
	e.custody.each(func(r BalanceRecord) { out = append(out, r) })
	return out
}

// Persistence failures are logged, not surfaced: in-memory state is the
// source of truth and the store is rebuilt from it on the next write.
func (e *Exchange) persistBalance(tok, user common.Address) {
	if e.store == nil {
		return
	}
	rec := BalanceRecord{Token: tok, User: user, Amount: e.custody.balance(tok, user)}
	if err := e.store.SaveBalance(rec); err != nil {
		e.log.Warnw("persist_balance_failed", "token", tok.Hex(), "user", user.Hex(), "err", err)
	}
}

func (e *Exchange) persistOrder(o *Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(o); err != nil {
		e.log.Warnw("persist_order_failed", "id", o.ID, "err", err)
	}
}
