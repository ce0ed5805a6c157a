package market

import (
	"fmt"
	"math/big"

	"nftmarket/internal/domain"
	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

// ledger owns the seller balances and the marketplace treasury.
//
// held is every unit of native currency the marketplace holds. feeReserve is
// the part of it collected as listing fees; nothing pays it out. The rest
// belongs to sellers: held == feeReserve + sum(balances) after every commit.
type ledger struct {
	book       *domain.BalanceBook
	held       *big.Int
	feeReserve *big.Int
	journal    *journal
	seq        func() uint64
}

func newLedger(j *journal, seq func() uint64) *ledger {
	return &ledger{
		book:       domain.NewBalanceBook(),
		held:       new(big.Int),
		feeReserve: new(big.Int),
		journal:    j,
		seq:        seq,
	}
}

func (l *ledger) balance(seller common.Address) *big.Int {
	return l.book.Balance(seller)
}

// fits reports whether adding amount to the treasury, and to the seller's
// balance when seller is non-nil, stays within uint256.
func (l *ledger) fits(seller *common.Address, amount *big.Int) bool {
	if _, ok := safe.CheckedAdd(l.held, amount); !ok {
		return false
	}
	if seller == nil {
		return true
	}
	_, ok := safe.CheckedAdd(l.book.Balance(*seller), amount)
	return ok
}

// credit adds a sale payment to the seller's balance. Panics on overflow.
func (l *ledger) credit(seller common.Address, amount *big.Int) {
	l.recordBalance(seller)
	l.recordTreasury()
	l.book.Credit(seller, amount, l.seq())
	l.held = safe.SafeAdd(l.held, amount)
}

// zero resets the seller's balance and releases the amount from the
// treasury ahead of the payout.
func (l *ledger) zero(seller common.Address) *big.Int {
	amount := l.book.Balance(seller)
	l.recordBalance(seller)
	l.recordTreasury()
	l.book.Zero(seller, l.seq())
	l.held = safe.SafeSub(l.held, amount)
	return amount
}

// collectFee retains a listing fee payment.
func (l *ledger) collectFee(amount *big.Int) {
	l.recordTreasury()
	l.held = safe.SafeAdd(l.held, amount)
	l.feeReserve = safe.SafeAdd(l.feeReserve, amount)
}

func (l *ledger) recordBalance(seller common.Address) {
	prev := l.book.Balance(seller)
	prevSeq := l.book.LastSeq(seller)
	l.journal.record(func() {
		l.book.Set(seller, prev, prevSeq)
	})
}

func (l *ledger) recordTreasury() {
	held, reserve := l.held, l.feeReserve
	l.journal.record(func() {
		l.held, l.feeReserve = held, reserve
	})
}

// verifyInvariant panics if the treasury does not cover every balance.
func (l *ledger) verifyInvariant() {
	l.book.VerifyInvariant()
	owed := safe.SafeAdd(l.feeReserve, l.book.Total())
	if owed.Cmp(l.held) != 0 {
		panic(fmt.Sprintf("TREASURY_INVARIANT_VIOLATED: held=%s fee_reserve=%s balances=%s",
			l.held, l.feeReserve, l.book.Total()))
	}
}
