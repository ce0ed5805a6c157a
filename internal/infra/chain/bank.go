package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiveHook runs when an account is paid, before the credit lands. Returning
// false rejects the payment, like a receiver contract that reverts.
type ReceiveHook func(ctx context.Context, to common.Address, amount *big.Int) bool

// Bank is an in-memory native currency ledger for external accounts. It pays
// out marketplace proceeds through Transfer.
type Bank struct {
	mu        sync.RWMutex
	accounts  map[common.Address]*big.Int
	rejecting map[common.Address]bool
	onReceive ReceiveHook
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		accounts:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

// Deposit credits an account.
func (b *Bank) Deposit(to common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(to, amount)
}

func (b *Bank) credit(to common.Address, amount *big.Int) {
	cur, ok := b.accounts[to]
	if !ok {
		cur = new(big.Int)
	}
	b.accounts[to] = safe.SafeAdd(cur, amount)
}

// BalanceOf returns the account balance.
func (b *Bank) BalanceOf(addr common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return safe.Copy(b.accounts[addr])
}

// Reject makes payments to addr fail (or succeed again when reject is false).
func (b *Bank) Reject(addr common.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[addr] = reject
}

// OnReceive installs the receive hook.
func (b *Bank) OnReceive(hook ReceiveHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReceive = hook
}

// Transfer implements domain.FundTransferer. It never panics on a rejected
// payment; it reports false.
func (b *Bank) Transfer(ctx context.Context, to common.Address, amount *big.Int) bool {
	b.mu.RLock()
	rejecting := b.rejecting[to]
	hook := b.onReceive
	b.mu.RUnlock()

	if rejecting {
		slog.Warn("Payment rejected by receiver", slog.String("to", to.Hex()), slog.String("amount", amount.String()))
		return false
	}
	if hook != nil && !hook(ctx, to, amount) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(to, amount)
	return true
}
