package exchange

import (
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/uhyunpark/minidex/pkg/token"
	"github.com/uhyunpark/minidex/pkg/util"
)

// Property: under arbitrary operation sequences, custodied balances per
// token always sum to exactly what the token ledger holds at the custody
// address, no order is ever both filled and cancelled, and the journal
// sequence stays dense.
func TestProperty_RandomOperationSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		users := []common.Address{
			common.HexToAddress("0xA100000000000000000000000000000000000000"),
			common.HexToAddress("0xA200000000000000000000000000000000000000"),
			common.HexToAddress("0xA300000000000000000000000000000000000000"),
		}
		fee := common.HexToAddress("0xFe00000000000000000000000000000000000000")
		custodyAddr := common.HexToAddress("0xEc00000000000000000000000000000000000000")
		funder := common.HexToAddress("0xDe01000000000000000000000000000000000000")

		reg := token.NewRegistry()
		tokenA := token.NewToken("Token A", "TKA", 1_000_000, funder)
		tokenB := token.NewToken("Token B", "TKB", 1_000_000, funder)
		reg.Add(tokenA)
		reg.Add(tokenB)
		toks := []*token.Token{tokenA, tokenB}

		for _, tok := range toks {
			for _, u := range users {
				if err := tok.Transfer(funder, u, 10_000); err != nil {
					rt.Fatalf("fund: %v", err)
				}
				tok.Approve(u, custodyAddr, 10_000)
			}
		}

		ex, err := New(Config{
			Address:    custodyAddr,
			FeeAccount: fee,
			FeePercent: rapid.Uint64Range(0, 25).Draw(rt, "feePercent"),
			Tokens:     reg,
			Clock:      &util.ManualClock{T: time.Unix(1_700_000_000, 0)},
		})
		if err != nil {
			rt.Fatalf("new exchange: %v", err)
		}

		checkInvariants := func(step int) {
			sums := map[common.Address]uint64{}
			for _, r := range ex.Balances() {
				sums[r.Token] += r.Amount
			}
			for _, tok := range toks {
				if sums[tok.Address()] != tok.BalanceOf(custodyAddr) {
					rt.Fatalf("step %d: %s custody sum %d != ledger holds %d",
						step, tok.Symbol(), sums[tok.Address()], tok.BalanceOf(custodyAddr))
				}
			}
			for _, o := range ex.Orders() {
				if o.Filled && o.Cancelled {
					rt.Fatalf("step %d: order %d both filled and cancelled", step, o.ID)
				}
			}
			for i, ev := range ex.Events() {
				if ev.Seq != uint64(i)+1 {
					rt.Fatalf("step %d: journal gap at index %d (seq %d)", step, i, ev.Seq)
				}
			}
		}

		anyUser := rapid.SampledFrom(users)
		anyToken := rapid.SampledFrom(toks)
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")

		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 4).Draw(rt, "op")
			switch op {
			case 0:
				u := anyUser.Draw(rt, "depositor")
				tok := anyToken.Draw(rt, "depositToken")
				amount := rapid.Uint64Range(0, 200).Draw(rt, "depositAmount")
				ex.Deposit(tok.Address(), u, amount)
			case 1:
				u := anyUser.Draw(rt, "withdrawer")
				tok := anyToken.Draw(rt, "withdrawToken")
				amount := rapid.Uint64Range(0, 200).Draw(rt, "withdrawAmount")
				ex.Withdraw(tok.Address(), u, amount)
			case 2:
				u := anyUser.Draw(rt, "orderMaker")
				// Mostly realistic sizes, with occasional near-maximum buy
				// amounts so fills hit the overflow guards.
				buy := rapid.OneOf(
					rapid.Uint64Range(0, 50),
					rapid.Uint64Range(math.MaxUint64-50, math.MaxUint64),
				).Draw(rt, "amountToBuy")
				sell := rapid.Uint64Range(0, 50).Draw(rt, "amountToSell")
				ex.MakeOrder(u, tokenB.Address(), buy, tokenA.Address(), sell)
			case 3:
				u := anyUser.Draw(rt, "canceller")
				id := rapid.Uint64Range(0, ex.OrdersCount()+2).Draw(rt, "cancelID")
				ex.CancelOrder(u, id)
			case 4:
				u := anyUser.Draw(rt, "filler")
				id := rapid.Uint64Range(0, ex.OrdersCount()+2).Draw(rt, "fillID")
				ex.FillOrder(u, id)
			}
			checkInvariants(i)
		}

		// Idempotent reads: repeated queries agree with themselves.
		count := ex.OrdersCount()
		events := len(ex.Events())
		for _, u := range users {
			for _, tok := range toks {
				if ex.BalanceOf(tok.Address(), u) != ex.BalanceOf(tok.Address(), u) {
					rt.Fatal("BalanceOf not stable")
				}
			}
		}
		if ex.OrdersCount() != count || len(ex.Events()) != events {
			rt.Fatal("reads mutated state")
		}
	})
}

// Property: terminal order states are sinks. After a cancel or a fill,
// both cancel and fill reject forever.
func TestProperty_TerminalStatesAreSinks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		custodyAddr := common.HexToAddress("0xEc00000000000000000000000000000000000000")
		fee := common.HexToAddress("0xFe00000000000000000000000000000000000000")
		funder := common.HexToAddress("0xDe01000000000000000000000000000000000000")
		mk := common.HexToAddress("0xA100000000000000000000000000000000000000")
		tk := common.HexToAddress("0xA200000000000000000000000000000000000000")

		reg := token.NewRegistry()
		tokenA := token.NewToken("Token A", "TKA", 1_000_000, funder)
		tokenB := token.NewToken("Token B", "TKB", 1_000_000, funder)
		reg.Add(tokenA)
		reg.Add(tokenB)
		tokenA.Transfer(funder, mk, 1000)
		tokenB.Transfer(funder, tk, 1000)
		tokenA.Approve(mk, custodyAddr, 1000)
		tokenB.Approve(tk, custodyAddr, 1000)

		ex, err := New(Config{
			Address: custodyAddr, FeeAccount: fee, FeePercent: 10,
			Tokens: reg, Clock: &util.ManualClock{T: time.Unix(1_700_000_000, 0)},
		})
		if err != nil {
			rt.Fatalf("new exchange: %v", err)
		}

		ex.Deposit(tokenA.Address(), mk, 100)
		ex.Deposit(tokenB.Address(), tk, 100)
		id, err := ex.MakeOrder(mk, tokenB.Address(), 10, tokenA.Address(), 10)
		if err != nil {
			rt.Fatalf("make order: %v", err)
		}

		if rapid.Bool().Draw(rt, "cancelFirst") {
			if err := ex.CancelOrder(mk, id); err != nil {
				rt.Fatalf("cancel: %v", err)
			}
		} else {
			if err := ex.FillOrder(tk, id); err != nil {
				rt.Fatalf("fill: %v", err)
			}
		}

		attempts := rapid.IntRange(1, 10).Draw(rt, "attempts")
		for i := 0; i < attempts; i++ {
			if err := ex.CancelOrder(mk, id); err == nil {
				rt.Fatal("terminal order accepted a cancel")
			}
			if err := ex.FillOrder(tk, id); err == nil {
				rt.Fatal("terminal order accepted a fill")
			}
		}
		if ex.OrderFilled(id) && ex.OrderCancelled(id) {
			rt.Fatal("order both filled and cancelled")
		}
	})
}
