package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Type names an observable marketplace event.
type Type string

const (
	TypeItemListed        Type = "ItemListed"
	TypeItemCanceled      Type = "ItemCanceled"
	TypeItemUpdated       Type = "ItemUpdated"
	TypeItemPurchased     Type = "ItemPurchased"
	TypeProceedsWithdrawn Type = "ProceedsWithdrawn"
)

// Event is a notification emitted by a committed marketplace operation.
type Event interface {
	GetSeq() uint64
	GetTs() int64
	GetType() Type
	setBase(seq uint64, ts int64)
}

// BaseEvent carries the commit sequence and timestamp (Unix microseconds).
// Both are assigned when the emitting operation commits.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (b *BaseEvent) GetSeq() uint64 { return b.Seq }
func (b *BaseEvent) GetTs() int64   { return b.Ts }

func (b *BaseEvent) setBase(seq uint64, ts int64) {
	b.Seq = seq
	b.Ts = ts
}

// Stamp assigns the commit sequence and timestamp.
func Stamp(ev Event, seq uint64, ts int64) {
	ev.setBase(seq, ts)
}

// ItemListed is emitted when a listing is created.
type ItemListed struct {
	BaseEvent
	Seller     common.Address `json:"seller"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
	Price      *big.Int       `json:"price"`
}

func (e *ItemListed) GetType() Type { return TypeItemListed }

// ItemCanceled is emitted when a seller cancels a listing.
type ItemCanceled struct {
	BaseEvent
	Seller     common.Address `json:"seller"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
}

func (e *ItemCanceled) GetType() Type { return TypeItemCanceled }

// ItemUpdated is emitted when a listing price changes.
type ItemUpdated struct {
	BaseEvent
	Seller     common.Address `json:"seller"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
	Price      *big.Int       `json:"price"`
}

func (e *ItemUpdated) GetType() Type { return TypeItemUpdated }

// ItemPurchased is emitted when a sale executes. Price is the listed price,
// not the payment.
type ItemPurchased struct {
	BaseEvent
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
	Price      *big.Int       `json:"price"`
}

func (e *ItemPurchased) GetType() Type { return TypeItemPurchased }

// ProceedsWithdrawn is emitted when a seller withdraws their balance.
type ProceedsWithdrawn struct {
	BaseEvent
	Seller common.Address `json:"seller"`
	Amount *big.Int       `json:"amount"`
}

func (e *ProceedsWithdrawn) GetType() Type { return TypeProceedsWithdrawn }

// Envelope is the wire form of one event for external subscribers.
type Envelope struct {
	Type  Type  `json:"type"`
	Event Event `json:"event"`
}

// Wrap builds the envelope for ev.
func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.GetType(), Event: ev}
}

// Sink receives committed events in commit order.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
