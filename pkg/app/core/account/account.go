package account

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes real accounts from the synthetic liquidity provider.
type Kind uint8

const (
	KindReal Kind = iota
	KindSynthetic
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Ref identifies the owner of an order.
//
// A synthetic ref is an unconstrained counterparty used by the market
// simulator: settlement never touches a balance or holding for it.
type Ref struct {
	kind Kind
	id   string
}

func Real(id string) Ref { return Ref{kind: KindReal, id: id} }

func Synthetic() Ref { return Ref{kind: KindSynthetic} }

func (r Ref) Kind() Kind        { return r.kind }
func (r Ref) IsSynthetic() bool { return r.kind == KindSynthetic }

// ID returns the account id of a real ref, "" for the synthetic one.
func (r Ref) ID() string { return r.id }

func (r Ref) String() string {
	if r.kind == KindSynthetic {
		return "synthetic"
	}
	return r.id
}

type refJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Kind: r.kind.String(), ID: r.id})
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var v refJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.Kind {
	case "real":
		if v.ID == "" {
			return fmt.Errorf("real account ref without id")
		}
		*r = Real(v.ID)
	case "synthetic":
		*r = Synthetic()
	default:
		return fmt.Errorf("unknown account ref kind %q", v.Kind)
	}
	return nil
}

// Account is a cash balance owned by one cookie identity.
type Account struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewAccount(id string, balance decimal.Decimal, now time.Time) *Account {
	return &Account{ID: id, Balance: balance, CreatedAt: now}
}

// Holding is a long position in one symbol valued at weighted-average cost.
type Holding struct {
	Owner    string          `json:"owner"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Blend applies a signed quantity delta traded at price.
//
//	newQty = qty + delta
//	newAvg = (qty*avg + delta*price) / newQty   if newQty > 0
//	newAvg = avg                                otherwise
//
// Reducing trades go through the same formula. Blend reports whether the
// holding is now empty (newQty <= 0) and should be deleted.
func (h *Holding) Blend(delta int64, price decimal.Decimal) (empty bool) {
	newQty := h.Quantity + delta
	if newQty > 0 {
		cost := h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity)).
			Add(price.Mul(decimal.NewFromInt(delta)))
		h.AvgPrice = cost.Div(decimal.NewFromInt(newQty))
	}
	h.Quantity = newQty
	return newQty <= 0
}

// MarketValue returns quantity × price.
func (h *Holding) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(h.Quantity))
}
