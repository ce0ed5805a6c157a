package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry is the external system of record for asset ownership and
// per-token transfer approval (an ERC-721 style collection contract).
type AssetRegistry interface {
	// OwnerOf returns the current owner. Fails with ErrInvalidToken if the
	// token does not exist.
	OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error)
	// GetApproved returns the approved transfer agent, or the zero address.
	GetApproved(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error)
	// TransferFrom moves the asset on behalf of operator. Fails if from is not
	// the current owner or operator is not authorized.
	TransferFrom(ctx context.Context, operator common.Address, collection common.Address, from, to common.Address, tokenID *big.Int) error
}

// FundTransferer moves native funds out of the marketplace.
// Failure is reported through the return value, never raised.
type FundTransferer interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) bool
}
