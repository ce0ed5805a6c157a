package market

import (
	"errors"
	"fmt"
	"math/big"

	"nftmarket/internal/domain"
	"nftmarket/pkg/safe"
)

// State is a point-in-time copy of everything the marketplace owns.
type State struct {
	TxSeq      uint64           `json:"tx_seq"`
	EventSeq   uint64           `json:"event_seq"`
	Listings   []ListingEntry   `json:"listings"`
	Balances   []domain.Balance `json:"balances"`
	Held       *big.Int         `json:"held"`
	FeeReserve *big.Int         `json:"fee_reserve"`
}

// ErrRestoreInFlight is returned by Restore while an invocation is running.
var ErrRestoreInFlight = errors.New("cannot restore during an invocation")

// State returns a snapshot of the marketplace.
func (m *Marketplace) State() State {
	return State{
		TxSeq:      m.txSeq,
		EventSeq:   m.eventSeq,
		Listings:   m.registry.all(),
		Balances:   m.ledger.book.Snapshot(),
		Held:       safe.Copy(m.ledger.held),
		FeeReserve: safe.Copy(m.ledger.feeReserve),
	}
}

// Restore replaces the marketplace contents with s. Inactive listings in s
// are skipped. The restored state must satisfy the treasury invariant.
func (m *Marketplace) Restore(s State) (err error) {
	if m.depth > 0 {
		return ErrRestoreInFlight
	}

	registry := newListingRegistry(nil)
	for _, entry := range s.Listings {
		registry.set(entry.Key.Collection, entry.Key.TokenID, entry.Listing)
	}
	registry.journal = m.journal

	l := newLedger(m.journal, m.ledger.seq)
	for _, b := range s.Balances {
		if !safe.IsUint256(b.Amount) {
			return fmt.Errorf("restore balance %s: %w", b.Seller.Hex(), ErrAmountOutOfRange)
		}
		l.book.Set(b.Seller, b.Amount, b.LastSeq)
	}
	l.held = safe.Copy(s.Held)
	l.feeReserve = safe.Copy(s.FeeReserve)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("restore: %v", r)
		}
	}()
	l.verifyInvariant()

	m.registry = registry
	m.ledger = l
	m.validator.registry = registry
	m.validator.ledger = l
	m.txSeq = s.TxSeq
	m.eventSeq = s.EventSeq
	return nil
}
