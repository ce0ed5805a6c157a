package storage

import (
	"context"
	"fmt"

	"nftmarket/internal/engine"

	"github.com/google/uuid"
)

// SaveCommand appends a sequenced command to the journal.
func (s *Storage) SaveCommand(ctx context.Context, cmd *engine.Command) error {
	rec := CommandRecord{
		Seq:        cmd.Seq,
		ID:         cmd.ID.String(),
		Type:       string(cmd.Type),
		Sender:     formatAddress(cmd.Sender),
		Value:      formatInt(cmd.Value),
		Collection: formatAddress(cmd.Collection),
		TokenID:    formatInt(cmd.TokenID),
		Price:      formatInt(cmd.Price),
		Ts:         cmd.Ts,
	}
	return s.withContext(ctx).Create(&rec).Error
}

// ListCommands returns journaled commands with Seq >= fromSeq in sequence order.
func (s *Storage) ListCommands(ctx context.Context, fromSeq uint64) ([]*engine.Command, error) {
	var recs []CommandRecord
	err := s.withContext(ctx).
		Where("seq >= ?", fromSeq).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	cmds := make([]*engine.Command, 0, len(recs))
	for _, rec := range recs {
		cmd, err := rec.toCommand()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", rec.Seq, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (rec CommandRecord) toCommand() (*engine.Command, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, err
	}
	sender, err := parseAddress("sender", rec.Sender)
	if err != nil {
		return nil, err
	}
	collection, err := parseAddress("collection", rec.Collection)
	if err != nil {
		return nil, err
	}
	value, err := parseInt("value", rec.Value)
	if err != nil {
		return nil, err
	}
	tokenID, err := parseInt("token id", rec.TokenID)
	if err != nil {
		return nil, err
	}
	price, err := parseInt("price", rec.Price)
	if err != nil {
		return nil, err
	}

	return &engine.Command{
		ID:         id,
		Seq:        rec.Seq,
		Type:       engine.CommandType(rec.Type),
		Sender:     sender,
		Value:      value,
		Collection: collection,
		TokenID:    tokenID,
		Price:      price,
		Ts:         rec.Ts,
	}, nil
}

// LastCommandSeq returns the highest journaled sequence, or 0 if empty.
func (s *Storage) LastCommandSeq(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.withContext(ctx).Model(&CommandRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error
	return last, err
}
