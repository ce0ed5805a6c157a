package storage

import (
	"context"
	"fmt"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/market"

	"gorm.io/gorm"
)

// Checkpoint is the persisted marketplace state and the first journaled
// command it does not include.
type Checkpoint struct {
	NextSeq uint64
	State   market.State
}

// SaveCheckpoint implements engine.CommandStore. With a state it replaces the
// stored listings, balances and treasury in one transaction; with nil only
// the sequence moves.
func (s *Storage) SaveCheckpoint(ctx context.Context, nextSeq uint64, st *market.State) error {
	if st == nil {
		return s.advanceCheckpoint(ctx, nextSeq)
	}
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ListingRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&BalanceRecord{}).Error; err != nil {
			return err
		}

		if len(st.Listings) > 0 {
			listings := make([]ListingRecord, 0, len(st.Listings))
			for _, e := range st.Listings {
				listings = append(listings, ListingRecord{
					Collection: formatAddress(e.Key.Collection),
					TokenID:    formatInt(e.Key.TokenID),
					Price:      formatInt(e.Listing.Price),
					Seller:     formatAddress(e.Listing.Seller),
				})
			}
			if err := tx.Create(&listings).Error; err != nil {
				return err
			}
		}

		if len(st.Balances) > 0 {
			balances := make([]BalanceRecord, 0, len(st.Balances))
			for _, b := range st.Balances {
				balances = append(balances, BalanceRecord{
					Seller:  formatAddress(b.Seller),
					Amount:  formatInt(b.Amount),
					LastSeq: b.LastSeq,
				})
			}
			if err := tx.Create(&balances).Error; err != nil {
				return err
			}
		}

		treasury := TreasuryRecord{
			ID:         treasuryRowID,
			NextSeq:    nextSeq,
			TxSeq:      st.TxSeq,
			EventSeq:   st.EventSeq,
			Held:       formatInt(st.Held),
			FeeReserve: formatInt(st.FeeReserve),
			UpdatedAt:  time.Now(),
		}
		return tx.Save(&treasury).Error
	})
}

func (s *Storage) advanceCheckpoint(ctx context.Context, nextSeq uint64) error {
	db := s.withContext(ctx)
	res := db.Model(&TreasuryRecord{}).
		Where("id = ?", treasuryRowID).
		Updates(map[string]any{"next_seq": nextSeq, "updated_at": time.Now()})
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}

	// Nothing committed yet: the empty marketplace is the state.
	return db.Create(&TreasuryRecord{
		ID:         treasuryRowID,
		NextSeq:    nextSeq,
		Held:       "0",
		FeeReserve: "0",
		UpdatedAt:  time.Now(),
	}).Error
}

// LoadCheckpoint returns the stored checkpoint, or nil if none was ever saved.
func (s *Storage) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	db := s.withContext(ctx)

	var treasury TreasuryRecord
	res := db.Where("id = ?", treasuryRowID).Limit(1).Find(&treasury)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil // Not found is not an error
	}

	cp := &Checkpoint{NextSeq: treasury.NextSeq}
	st := &cp.State
	st.TxSeq = treasury.TxSeq
	st.EventSeq = treasury.EventSeq
	var err error
	if st.Held, err = parseInt("held", treasury.Held); err != nil {
		return nil, err
	}
	if st.FeeReserve, err = parseInt("fee reserve", treasury.FeeReserve); err != nil {
		return nil, err
	}

	var listings []ListingRecord
	if err := db.Order("collection asc, token_id asc").Find(&listings).Error; err != nil {
		return nil, err
	}
	for _, rec := range listings {
		entry, err := rec.toEntry()
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", rec.Collection, rec.TokenID, err)
		}
		st.Listings = append(st.Listings, entry)
	}

	var balances []BalanceRecord
	if err := db.Order("seller asc").Find(&balances).Error; err != nil {
		return nil, err
	}
	for _, rec := range balances {
		seller, err := parseAddress("seller", rec.Seller)
		if err != nil {
			return nil, err
		}
		amount, err := parseInt("amount", rec.Amount)
		if err != nil {
			return nil, err
		}
		st.Balances = append(st.Balances, domain.Balance{Seller: seller, Amount: amount, LastSeq: rec.LastSeq})
	}

	return cp, nil
}

func (rec ListingRecord) toEntry() (market.ListingEntry, error) {
	collection, err := parseAddress("collection", rec.Collection)
	if err != nil {
		return market.ListingEntry{}, err
	}
	seller, err := parseAddress("seller", rec.Seller)
	if err != nil {
		return market.ListingEntry{}, err
	}
	tokenID, err := parseInt("token id", rec.TokenID)
	if err != nil {
		return market.ListingEntry{}, err
	}
	price, err := parseInt("price", rec.Price)
	if err != nil {
		return market.ListingEntry{}, err
	}
	return market.ListingEntry{
		Key:     domain.NewListingKey(collection, tokenID),
		Listing: domain.Listing{Price: price, Seller: seller},
	}, nil
}
