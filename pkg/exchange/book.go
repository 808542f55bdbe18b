package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Order is one entry of the order registry. Core fields are fixed at
// creation; only the two terminal flags ever change, each at most once.
type Order struct {
	ID           uint64         `json:"id"`
	Maker        common.Address `json:"maker"`
	TokenToBuy   common.Address `json:"tokenToBuy"`
	AmountToBuy  uint64         `json:"amountToBuy"`
	TokenToSell  common.Address `json:"tokenToSell"`
	AmountToSell uint64         `json:"amountToSell"`
	Timestamp    int64          `json:"timestamp"`

	Cancelled bool `json:"cancelled"`
	Filled    bool `json:"filled"`
}

// book is the append-only order registry. Ids are assigned sequentially
// from 1 and never reused; orders are marked terminal, never deleted. The
// arena slice keeps insertion order for iteration, and since ids are
// dense the slice doubles as the id index.
type book struct {
	orders []*Order
}

func newBook() *book {
	return &book{}
}

// add stores the order under the next id and returns it.
func (b *book) add(o *Order) *Order {
	o.ID = uint64(len(b.orders)) + 1
	b.orders = append(b.orders, o)
	return o
}

func (b *book) get(id uint64) (*Order, bool) {
	if id == 0 || id > uint64(len(b.orders)) {
		return nil, false
	}
	return b.orders[id-1], true
}

func (b *book) count() uint64 {
	return uint64(len(b.orders))
}

// all returns the registry in insertion order.
func (b *book) all() []*Order {
	out := make([]*Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// restore reloads persisted orders, which must already be dense and
// sorted by id.
func (b *book) restore(orders []*Order) error {
	for i, o := range orders {
		if o.ID != uint64(i)+1 {
			return fmt.Errorf("order registry gap: position %d holds id %d", i, o.ID)
		}
	}
	b.orders = orders
	return nil
}
