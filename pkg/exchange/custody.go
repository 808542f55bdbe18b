package exchange

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// balanceKey identifies one custodied balance record.
type balanceKey struct {
	Token common.Address
	User  common.Address
}

// BalanceRecord is the exported shape of one balance table entry, used by
// persistence and snapshots.
type BalanceRecord struct {
	Token  common.Address `json:"token"`
	User   common.Address `json:"user"`
	Amount uint64         `json:"amount"`
}

// Move is one settlement leg inside the custody table. No external token
// movement is involved; both sides are already custodied.
type Move struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount uint64
}

// custody is the balance table: (token, user) → custodied units. It is
// mutated only by deposit, withdrawal and settlement, under the exchange
// lock.
type custody struct {
	balances map[balanceKey]uint64
}

func newCustody() *custody {
	return &custody{balances: make(map[balanceKey]uint64)}
}

func (c *custody) balance(tok, user common.Address) uint64 {
	return c.balances[balanceKey{tok, user}]
}

func (c *custody) credit(tok, user common.Address, amount uint64) (uint64, error) {
	k := balanceKey{tok, user}
	next := c.balances[k] + amount
	if next < c.balances[k] {
		return 0, fmt.Errorf("balance overflow for %s/%s", tok.Hex(), user.Hex())
	}
	c.balances[k] = next
	return next, nil
}

func (c *custody) debit(tok, user common.Address, amount uint64) (uint64, error) {
	k := balanceKey{tok, user}
	if c.balances[k] < amount {
		return 0, fmt.Errorf("debit below zero for %s/%s: have %d, need %d",
			tok.Hex(), user.Hex(), c.balances[k], amount)
	}
	c.balances[k] -= amount
	return c.balances[k], nil
}

// settle applies a batch of moves atomically: every debited side must
// cover its net outflow or nothing is applied. Net deltas are computed
// first so the batch stays all-or-nothing even when legs alias the same
// (token, user) pair. All sums are carry-checked; a batch whose deltas or
// resulting balances would wrap uint64 fails as a whole.
func (c *custody) settle(moves []Move) error {
	type delta struct{ credit, debit uint64 }
	deltas := make(map[balanceKey]*delta)
	at := func(k balanceKey) *delta {
		d, ok := deltas[k]
		if !ok {
			d = &delta{}
			deltas[k] = d
		}
		return d
	}

	for _, m := range moves {
		var carry uint64
		from := at(balanceKey{m.Token, m.From})
		if from.debit, carry = bits.Add64(from.debit, m.Amount, 0); carry != 0 {
			return fmt.Errorf("debit overflow for %s/%s", m.Token.Hex(), m.From.Hex())
		}
		to := at(balanceKey{m.Token, m.To})
		if to.credit, carry = bits.Add64(to.credit, m.Amount, 0); carry != 0 {
			return fmt.Errorf("credit overflow for %s/%s", m.Token.Hex(), m.To.Hex())
		}
	}

	for k, d := range deltas {
		sum, carry := bits.Add64(c.balances[k], d.credit, 0)
		if carry != 0 {
			return fmt.Errorf("balance overflow for %s/%s", k.Token.Hex(), k.User.Hex())
		}
		if sum < d.debit {
			return fmt.Errorf("insufficient custodied balance for %s/%s: have %d+%d, need %d",
				k.Token.Hex(), k.User.Hex(), c.balances[k], d.credit, d.debit)
		}
	}

	for k, d := range deltas {
		c.balances[k] = c.balances[k] + d.credit - d.debit
	}
	return nil
}

// each visits every non-zero balance record.
func (c *custody) each(fn func(BalanceRecord)) {
	for k, amount := range c.balances {
		if amount == 0 {
			continue
		}
		fn(BalanceRecord{Token: k.Token, User: k.User, Amount: amount})
	}
}

func (c *custody) restore(records []BalanceRecord) {
	c.balances = make(map[balanceKey]uint64, len(records))
	for _, r := range records {
		c.balances[balanceKey{r.Token, r.User}] = r.Amount
	}
}
