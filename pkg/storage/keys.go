package storage

import (
	"fmt"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
)

// Key schema:
//
//	acc:{accountID}                     → Account
//	hold:{accountID}:{symbol}           → Holding
//	ord:{owner}:{orderID:020}           → Order
//	trade:{symbol}:{unixNano:020}:{id}  → Trade
//	seq:{name}                          → uint64 (big endian)
//
// {owner} is the account id for real accounts and "~sim" for the
// synthetic one; account ids are UUIDs and never contain '~' or ':'.
const (
	prefixAccount = "acc:"
	prefixHolding = "hold:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixSeq     = "seq:"

	syntheticOwner = "~sim"
)

func ownerSegment(r account.Ref) string {
	if r.IsSynthetic() {
		return syntheticOwner
	}
	return r.ID()
}

// accountKey returns "acc:{id}"
func accountKey(id string) []byte {
	return []byte(prefixAccount + id)
}

// holdingKey returns "hold:{owner}:{symbol}"
func holdingKey(owner, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixHolding, owner, symbol))
}

func holdingPrefix(owner string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixHolding, owner))
}

// orderKey returns "ord:{owner}:{id}" with the id zero-padded so that a
// prefix scan yields orders in submission order.
func orderKey(owner account.Ref, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, ownerSegment(owner), id))
}

func orderPrefix(owner account.Ref) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, ownerSegment(owner)))
}

// tradeKey returns "trade:{symbol}:{timestamp}:{id}".
// Timestamp is zero-padded (20 digits) for lexicographic sorting.
func tradeKey(symbol string, unixNano int64, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixTrade, symbol, unixNano, id))
}

func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

func seqKey(name string) []byte {
	return []byte(prefixSeq + name)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
