package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"nftmarket/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// SaveEvent persists a committed event.
func (s *Storage) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.GetType(), err)
	}

	rec := EventRecord{
		Seq:     ev.GetSeq(),
		Type:    string(ev.GetType()),
		Payload: string(payload),
		Ts:      ev.GetTs(),
	}
	if collection, tokenID, ok := assetOf(ev); ok {
		rec.Collection = formatAddress(collection)
		rec.TokenID = formatInt(tokenID)
	}
	return s.withContext(ctx).Create(&rec).Error
}

// EventSink returns a sink that persists every published event. Failures
// are logged; the operation that emitted the event has already committed.
func (s *Storage) EventSink() event.Sink {
	return event.SinkFunc(func(ev event.Event) {
		if err := s.SaveEvent(context.Background(), ev); err != nil {
			slog.Error("Failed to persist event",
				slog.Uint64("seq", ev.GetSeq()),
				slog.String("type", string(ev.GetType())),
				slog.Any("error", err))
		}
	})
}

// ListEvents returns the events recorded for one asset in commit order.
func (s *Storage) ListEvents(ctx context.Context, collection common.Address, tokenID *big.Int) ([]event.Event, error) {
	var recs []EventRecord
	err := s.withContext(ctx).
		Where("collection = ? AND token_id = ?", formatAddress(collection), formatInt(tokenID)).
		Order("seq asc, id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return decodeAll(recs)
}

// ListAllEvents returns every recorded event with Seq >= fromSeq.
func (s *Storage) ListAllEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	var recs []EventRecord
	err := s.withContext(ctx).
		Where("seq >= ?", fromSeq).
		Order("seq asc, id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return decodeAll(recs)
}

func decodeAll(recs []EventRecord) ([]event.Event, error) {
	events := make([]event.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := decodeEvent(event.Type(rec.Type), []byte(rec.Payload))
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", rec.Seq, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeEvent(typ event.Type, payload []byte) (event.Event, error) {
	var ev event.Event
	switch typ {
	case event.TypeItemListed:
		ev = &event.ItemListed{}
	case event.TypeItemCanceled:
		ev = &event.ItemCanceled{}
	case event.TypeItemUpdated:
		ev = &event.ItemUpdated{}
	case event.TypeItemPurchased:
		ev = &event.ItemPurchased{}
	case event.TypeProceedsWithdrawn:
		ev = &event.ProceedsWithdrawn{}
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func assetOf(ev event.Event) (common.Address, *big.Int, bool) {
	switch e := ev.(type) {
	case *event.ItemListed:
		return e.Collection, e.TokenID, true
	case *event.ItemCanceled:
		return e.Collection, e.TokenID, true
	case *event.ItemUpdated:
		return e.Collection, e.TokenID, true
	case *event.ItemPurchased:
		return e.Collection, e.TokenID, true
	}
	return common.Address{}, nil, false
}
