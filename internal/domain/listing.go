package domain

import (
	"math/big"

	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

// ListingKey identifies an asset: a collection contract and a token id in it.
type ListingKey struct {
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id"`
}

// NewListingKey builds a key, copying tokenID.
func NewListingKey(collection common.Address, tokenID *big.Int) ListingKey {
	return ListingKey{Collection: collection, TokenID: safe.Copy(tokenID)}
}

// String returns "collection/tokenId", used as the registry map key.
func (k ListingKey) String() string {
	return k.Collection.Hex() + "/" + safe.Copy(k.TokenID).String()
}

// Listing is one asset currently offered for sale.
// A listing with a zero price is indistinguishable from no listing.
type Listing struct {
	Price  *big.Int       `json:"price"`
	Seller common.Address `json:"seller"`
}

// Active reports whether the listing is for sale (price > 0).
func (l Listing) Active() bool {
	return l.Price != nil && l.Price.Sign() > 0
}

// Copy returns a listing that shares no memory with l.
func (l Listing) Copy() Listing {
	return Listing{Price: safe.Copy(l.Price), Seller: l.Seller}
}

// Msg carries the caller identity and the native payment attached to a
// payable invocation.
type Msg struct {
	Sender common.Address `json:"sender"`
	Value  *big.Int       `json:"value"`
}

// NewMsg builds a Msg, copying value.
func NewMsg(sender common.Address, value *big.Int) Msg {
	return Msg{Sender: sender, Value: safe.Copy(value)}
}
