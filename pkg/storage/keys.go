package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//   bal:<token-hex>:<user-hex>  → BalanceRecord
//   ord:<8-byte BE id>          → Order
//   evt:<20-digit seq>          → Event
//
// Order and event keys sort in issue order under pebble's byte
// comparator, so prefix scans rebuild state in the right sequence.

const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixEvent   = "evt:"
)

func balanceKey(tok, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, tok.Hex(), user.Hex()))
}

func orderKey(id uint64) []byte {
	k := make([]byte, len(prefixOrder)+8)
	copy(k, prefixOrder)
	binary.BigEndian.PutUint64(k[len(prefixOrder):], id)
	return k
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
