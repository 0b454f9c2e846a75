package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names an emitted settlement record. Fill, Cancel and CancelUpTo
// mark state changes; the remaining kinds are soft-failure signals for
// invocations that completed without doing anything.
type EventKind string

const (
	EventFill                  EventKind = "fill"
	EventCancel                EventKind = "cancel"
	EventCancelUpTo            EventKind = "cancel_up_to"
	EventOrderExpired          EventKind = "order_expired"
	EventOrderUnfillable       EventKind = "order_unfillable"
	EventRoundingErrorTooLarge EventKind = "rounding_error_too_large"
)

// Event is one emitted record, carrying the order hash and the amounts
// relevant to its kind. Unused fields stay nil/zero and are omitted from JSON.
type Event struct {
	Kind      EventKind   `json:"kind"`
	OrderHash common.Hash `json:"orderHash,omitempty"`

	Maker        common.Address `json:"maker,omitempty"`
	Taker        common.Address `json:"taker,omitempty"`
	FeeRecipient common.Address `json:"feeRecipient,omitempty"`
	MakerAsset   common.Address `json:"makerAsset,omitempty"`
	TakerAsset   common.Address `json:"takerAsset,omitempty"`

	TakerAmountFilled *big.Int `json:"takerAmountFilled,omitempty"`
	MakerAmountFilled *big.Int `json:"makerAmountFilled,omitempty"`
	MakerFeePaid      *big.Int `json:"makerFeePaid,omitempty"`
	TakerFeePaid      *big.Int `json:"takerFeePaid,omitempty"`
	CancelledAmount   *big.Int `json:"cancelledAmount,omitempty"`
	Epoch             *big.Int `json:"epoch,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// EventSink receives emitted records. Publish must not block settlement for
// long and must not mutate the event.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// MultiSink fans one event out to several sinks (journal, websocket hub, ...).
type MultiSink []EventSink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}
