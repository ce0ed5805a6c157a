// Package chain provides in-memory stand-ins for the external collaborators
// of the marketplace: an ERC-721 style asset registry and a native currency bank.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"nftmarket/internal/domain"
	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenExists is returned by Mint for an existing token.
	ErrTokenExists = errors.New("token already minted")

	// ErrNotAuthorized is returned when the caller may not approve or transfer.
	ErrNotAuthorized = errors.New("caller is not owner nor approved")

	// ErrWrongOwner is returned when from is not the current owner.
	ErrWrongOwner = errors.New("transfer from incorrect owner")
)

// TransferHook runs inside TransferFrom after authorization and before the
// owner changes, the way a receiver callback runs mid-transfer. A non-nil
// error aborts the transfer.
type TransferHook func(ctx context.Context, collection common.Address, from, to common.Address, tokenID *big.Int) error

type token struct {
	owner    common.Address
	approved common.Address
}

type collection struct {
	tokens    map[string]*token
	operators map[common.Address]map[common.Address]bool
}

// Registry is an in-memory asset registry holding any number of collections.
type Registry struct {
	mu          sync.RWMutex
	collections map[common.Address]*collection
	onTransfer  TransferHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[common.Address]*collection),
	}
}

// OnTransfer installs the transfer hook.
func (r *Registry) OnTransfer(hook TransferHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransfer = hook
}

func (r *Registry) collection(addr common.Address) *collection {
	c, ok := r.collections[addr]
	if !ok {
		c = &collection{
			tokens:    make(map[string]*token),
			operators: make(map[common.Address]map[common.Address]bool),
		}
		r.collections[addr] = c
	}
	return c
}

func (r *Registry) token(addr common.Address, tokenID *big.Int) (*token, error) {
	c, ok := r.collections[addr]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", addr.Hex(), safe.Copy(tokenID), domain.ErrInvalidToken)
	}
	t, ok := c.tokens[safe.Copy(tokenID).String()]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", addr.Hex(), safe.Copy(tokenID), domain.ErrInvalidToken)
	}
	return t, nil
}

// Mint creates a token owned by to.
func (r *Registry) Mint(addr common.Address, to common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.collection(addr)
	id := safe.Copy(tokenID).String()
	if _, ok := c.tokens[id]; ok {
		return fmt.Errorf("%s/%s: %w", addr.Hex(), id, ErrTokenExists)
	}
	c.tokens[id] = &token{owner: to}
	return nil
}

// Approve sets the transfer agent of a token. The caller must be the owner
// or one of its operators.
func (r *Registry) Approve(caller common.Address, addr common.Address, agent common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.token(addr, tokenID)
	if err != nil {
		return err
	}
	if caller != t.owner && !r.collections[addr].operators[t.owner][caller] {
		return ErrNotAuthorized
	}
	t.approved = agent
	return nil
}

// SetApprovalForAll lets operator move every token owner holds in the collection.
func (r *Registry) SetApprovalForAll(owner common.Address, addr common.Address, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.collection(addr)
	ops, ok := c.operators[owner]
	if !ok {
		ops = make(map[common.Address]bool)
		c.operators[owner] = ops
	}
	ops[operator] = approved
}

// OwnerOf implements domain.AssetRegistry.
func (r *Registry) OwnerOf(_ context.Context, addr common.Address, tokenID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.token(addr, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return t.owner, nil
}

// GetApproved implements domain.AssetRegistry.
func (r *Registry) GetApproved(_ context.Context, addr common.Address, tokenID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.token(addr, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return t.approved, nil
}

// TransferFrom implements domain.AssetRegistry. The lock is not held while
// the hook runs so the hook may call back into the registry.
func (r *Registry) TransferFrom(ctx context.Context, operator common.Address, addr common.Address, from, to common.Address, tokenID *big.Int) error {
	r.mu.RLock()
	t, err := r.token(addr, tokenID)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	if t.owner != from {
		r.mu.RUnlock()
		return ErrWrongOwner
	}
	authorized := operator == from || t.approved == operator || r.collections[addr].operators[from][operator]
	hook := r.onTransfer
	r.mu.RUnlock()

	if !authorized {
		return ErrNotAuthorized
	}
	if hook != nil {
		if err := hook(ctx, addr, from, to, tokenID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: the hook may have moved the token.
	if t.owner != from {
		return ErrWrongOwner
	}
	t.owner = to
	t.approved = common.Address{}
	return nil
}
