package domain

import (
	"fmt"
	"math/big"

	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

// Balance is the amount owed to a seller, pending withdrawal.
type Balance struct {
	Seller  common.Address `json:"seller"`
	Amount  *big.Int       `json:"amount"`
	LastSeq uint64         `json:"last_seq"` // Last command sequence that modified this
}

// BalanceBook is the per-seller ledger of withdrawable proceeds.
// Entries are created on first credit and never deleted, only zeroed.
type BalanceBook struct {
	balances map[common.Address]*Balance
}

// NewBalanceBook creates an empty balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[common.Address]*Balance),
	}
}

func (bb *BalanceBook) get(seller common.Address) *Balance {
	b, ok := bb.balances[seller]
	if !ok {
		b = &Balance{Seller: seller, Amount: new(big.Int)}
		bb.balances[seller] = b
	}
	return b
}

// Balance returns a copy of the seller's balance. Unknown sellers have zero.
func (bb *BalanceBook) Balance(seller common.Address) *big.Int {
	if b, ok := bb.balances[seller]; ok {
		return safe.Copy(b.Amount)
	}
	return new(big.Int)
}

// Credit adds amount to the seller's balance. Panics on overflow.
func (bb *BalanceBook) Credit(seller common.Address, amount *big.Int, seq uint64) {
	b := bb.get(seller)
	b.Amount = safe.SafeAdd(b.Amount, amount)
	b.LastSeq = seq
}

// Zero resets the seller's balance. Idempotent.
func (bb *BalanceBook) Zero(seller common.Address, seq uint64) {
	b, ok := bb.balances[seller]
	if !ok {
		return
	}
	b.Amount = new(big.Int)
	b.LastSeq = seq
}

// Set overwrites the seller's balance. Used to restore checkpoints and undo
// journaled writes; regular accounting goes through Credit and Zero.
func (bb *BalanceBook) Set(seller common.Address, amount *big.Int, seq uint64) {
	if !safe.IsUint256(amount) {
		panic(fmt.Sprintf("BALANCE_OUT_OF_RANGE: %s = %v", seller.Hex(), amount))
	}
	b := bb.get(seller)
	b.Amount = safe.Copy(amount)
	b.LastSeq = seq
}

// LastSeq returns the sequence of the last write to the seller's balance.
func (bb *BalanceBook) LastSeq(seller common.Address) uint64 {
	if b, ok := bb.balances[seller]; ok {
		return b.LastSeq
	}
	return 0
}

// Total returns the sum of all balances.
func (bb *BalanceBook) Total() *big.Int {
	total := new(big.Int)
	for _, b := range bb.balances {
		total.Add(total, b.Amount)
	}
	return total
}

// VerifyInvariant checks that every balance is a valid unsigned 256-bit amount.
func (bb *BalanceBook) VerifyInvariant() {
	for seller, b := range bb.balances {
		if !safe.IsUint256(b.Amount) {
			panic(fmt.Sprintf("BALANCE_INVARIANT_OUT_OF_RANGE: %s = %v", seller.Hex(), b.Amount))
		}
	}
}

// Snapshot returns a copy of all balances (for state dump and persistence).
func (bb *BalanceBook) Snapshot() []Balance {
	result := make([]Balance, 0, len(bb.balances))
	for _, b := range bb.balances {
		result = append(result, Balance{Seller: b.Seller, Amount: safe.Copy(b.Amount), LastSeq: b.LastSeq})
	}
	return result
}
