package tests

import (
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/minidex/pkg/exchange"
	"github.com/uhyunpark/minidex/pkg/storage"
	"github.com/uhyunpark/minidex/pkg/token"
)

var (
	custodyAddr = common.HexToAddress("0xEc00000000000000000000000000000000000000")
	feeAccount  = common.HexToAddress("0xFe00000000000000000000000000000000000000")
	deployer    = common.HexToAddress("0xDe01000000000000000000000000000000000000")
	alice       = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob         = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

// newTestStore opens a pebble store under a per-test path.
func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := fmt.Sprintf("./tmp_test_e2e_%s.db", t.Name())
	os.RemoveAll(path)
	t.Cleanup(func() { os.RemoveAll(path) })

	s, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

type world struct {
	reg    *token.Registry
	tokenA *token.Token
	tokenB *token.Token
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := token.NewRegistry()
	tokenA := token.NewToken("Dapp Token", "DAPP", 1_000_000, deployer)
	tokenB := token.NewToken("Mock Dai", "MDAI", 2_000_000, deployer)
	reg.Add(tokenA)
	reg.Add(tokenB)

	if err := tokenA.Transfer(deployer, alice, 1000); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	if err := tokenB.Transfer(deployer, bob, 1000); err != nil {
		t.Fatalf("fund bob: %v", err)
	}
	tokenA.Approve(alice, custodyAddr, 1000)
	tokenB.Approve(bob, custodyAddr, 1000)

	return &world{reg: reg, tokenA: tokenA, tokenB: tokenB}
}

func newExchange(t *testing.T, w *world, store *storage.Store) *exchange.Exchange {
	t.Helper()
	ex, err := exchange.New(exchange.Config{
		Address:    custodyAddr,
		FeeAccount: feeAccount,
		FeePercent: 10,
		Tokens:     w.reg,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if err := ex.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	return ex
}

// Full lifecycle across the facade: deposit, make, fill, withdraw, with
// persistence on.
func TestFullTradeLifecycle(t *testing.T) {
	w := newWorld(t)
	store := newTestStore(t)
	defer store.Close()
	ex := newExchange(t, w, store)

	a, b := w.tokenA.Address(), w.tokenB.Address()

	if err := ex.Deposit(a, alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ex.Deposit(b, bob, 20); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	id, err := ex.MakeOrder(alice, b, 10, a, 10)
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := ex.FillOrder(bob, id); err != nil {
		t.Fatalf("fill order: %v", err)
	}

	if err := ex.Withdraw(a, bob, 10); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if w.tokenA.BalanceOf(bob) != 10 {
		t.Errorf("bob external A = %d, want 10", w.tokenA.BalanceOf(bob))
	}

	// Custody totals still match the token ledger after the whole run.
	if got := w.tokenA.BalanceOf(custodyAddr); got != 90 {
		t.Errorf("custody holds %d A, want 90", got)
	}
	if got := w.tokenB.BalanceOf(custodyAddr); got != 20 {
		t.Errorf("custody holds %d B, want 20", got)
	}

	events := ex.Events()
	if len(events) != 5 {
		t.Fatalf("journal has %d entries, want 5", len(events))
	}
	if events[3].Type != exchange.EventTrade || events[3].Trade.Creator != alice {
		t.Errorf("trade event wrong: %+v", events[3])
	}
}

// Restart: a second exchange over the same store sees identical state and
// continues id/seq assignment without gaps or reuse.
func TestRestartRehydratesState(t *testing.T) {
	w := newWorld(t)
	path := fmt.Sprintf("./tmp_test_e2e_%s.db", t.Name())
	os.RemoveAll(path)
	t.Cleanup(func() { os.RemoveAll(path) })

	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	a, b := w.tokenA.Address(), w.tokenB.Address()

	ex := newExchange(t, w, store)
	ex.Deposit(a, alice, 100)
	ex.Deposit(b, bob, 20)
	ex.MakeOrder(alice, b, 10, a, 10)
	ex.MakeOrder(alice, b, 5, a, 5)
	ex.CancelOrder(alice, 2)
	ex.FillOrder(bob, 1)
	eventsBefore := len(ex.Events())

	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store2, err := storage.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()
	ex2 := newExchange(t, w, store2)

	if ex2.OrdersCount() != 2 {
		t.Errorf("orders count = %d, want 2", ex2.OrdersCount())
	}
	if !ex2.OrderFilled(1) || !ex2.OrderCancelled(2) {
		t.Error("order flags lost across restart")
	}
	if got := ex2.BalanceOf(a, alice); got != 90 {
		t.Errorf("alice A = %d, want 90", got)
	}
	if got := ex2.BalanceOf(b, bob); got != 9 {
		t.Errorf("bob B = %d, want 9", got)
	}
	if got := ex2.BalanceOf(b, feeAccount); got != 1 {
		t.Errorf("fee account B = %d, want 1", got)
	}
	if got := len(ex2.Events()); got != eventsBefore {
		t.Errorf("journal has %d entries after restart, want %d", got, eventsBefore)
	}

	// New activity continues the sequences instead of restarting them.
	id, err := ex2.MakeOrder(alice, b, 5, a, 5)
	if err != nil {
		t.Fatalf("make order after restart: %v", err)
	}
	if id != 3 {
		t.Errorf("next order id = %d, want 3", id)
	}
	last := ex2.Events()[len(ex2.Events())-1]
	if last.Seq != uint64(eventsBefore)+1 {
		t.Errorf("next event seq = %d, want %d", last.Seq, eventsBefore+1)
	}
}

// Ghost orders survive restarts too: the re-validation happens at fill
// time against the live balance table.
func TestGhostOrderAcrossRestart(t *testing.T) {
	w := newWorld(t)
	path := fmt.Sprintf("./tmp_test_e2e_%s.db", t.Name())
	os.RemoveAll(path)
	t.Cleanup(func() { os.RemoveAll(path) })

	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	a, b := w.tokenA.Address(), w.tokenB.Address()

	ex := newExchange(t, w, store)
	ex.Deposit(a, alice, 10)
	ex.Deposit(b, bob, 20)
	ex.MakeOrder(alice, b, 10, a, 10)
	ex.Withdraw(a, alice, 10)
	store.Close()

	store2, err := storage.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()
	ex2 := newExchange(t, w, store2)

	err = ex2.FillOrder(bob, 1)
	if !exchange.IsKind(err, exchange.KindInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if ex2.OrderFilled(1) {
		t.Error("ghost order must stay open after failed fill")
	}
}
