// Package events fans engine activity out to downstream consumers: the
// websocket hub, metrics, a Kafka topic and an on-disk journal.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
)

type Kind string

const (
	KindOrder       Kind = "order"
	KindTrade       Kind = "trade"
	KindTradeSkip   Kind = "trade_skipped"
	KindBook        Kind = "book"
	KindSettleError Kind = "settlement_failed"
)

// Event is one notification. Owner is set for events that concern a single
// account's private state (its own orders); Payload is JSON-encodable.
type Event struct {
	Kind    Kind         `json:"kind"`
	Symbol  string       `json:"symbol"`
	Owner   *account.Ref `json:"owner,omitempty"`
	At      time.Time    `json:"at"`
	Payload any          `json:"payload"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop drops every event.
var Nop Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Multi publishes to every sink in order. One failing sink does not stop
// the others; their errors are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
