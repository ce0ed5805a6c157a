package market

import (
	"context"
	"fmt"
	"math/big"

	"nftmarket/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// validator holds the read-only guards run before every state change.
// Ownership and approval are queried live on every call; nothing is cached.
type validator struct {
	self     common.Address
	assets   domain.AssetRegistry
	registry *listingRegistry
	ledger   *ledger
}

func (v *validator) requireNotListed(op string, collection common.Address, tokenID *big.Int) error {
	if v.registry.get(collection, tokenID).Active() {
		return domain.NewAssetError(op, domain.KindAlreadyListed, collection, tokenID)
	}
	return nil
}

func (v *validator) requireListed(op string, collection common.Address, tokenID *big.Int) (domain.Listing, error) {
	listing := v.registry.get(collection, tokenID)
	if !listing.Active() {
		return domain.Listing{}, domain.NewAssetError(op, domain.KindNotListed, collection, tokenID)
	}
	return listing, nil
}

func (v *validator) requireOwner(ctx context.Context, op string, collection common.Address, tokenID *big.Int, actor common.Address) error {
	owner, err := v.assets.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("%s: ownerOf: %w", op, err)
	}
	if owner != actor {
		return domain.NewAssetError(op, domain.KindNotOwner, collection, tokenID)
	}
	return nil
}

func (v *validator) requireApprovedForTransfer(ctx context.Context, op string, collection common.Address, tokenID *big.Int) error {
	approved, err := v.assets.GetApproved(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("%s: getApproved: %w", op, err)
	}
	if approved != v.self {
		return domain.NewAssetError(op, domain.KindTransferNotApproved, collection, tokenID)
	}
	return nil
}

func (v *validator) requireNonZeroBalance(op string, seller common.Address) (*big.Int, error) {
	amount := v.ledger.balance(seller)
	if amount.Sign() == 0 {
		return nil, domain.NewMarketError(op, domain.KindZeroBalance)
	}
	return amount, nil
}

// requireFundsFit rejects a payment the treasury or the seller balance could
// not absorb. It runs before any effect so an oversized payment never reaches
// the asset registry.
func (v *validator) requireFundsFit(op string, collection common.Address, tokenID *big.Int, seller *common.Address, amount *big.Int) error {
	if !v.ledger.fits(seller, amount) {
		return domain.NewAssetError(op, domain.KindTreasuryOverflow, collection, tokenID)
	}
	return nil
}
