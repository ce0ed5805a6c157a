package market

import (
	"math/big"
	"sort"

	"nftmarket/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// ListingEntry pairs a listing with its key.
type ListingEntry struct {
	Key     domain.ListingKey `json:"key"`
	Listing domain.Listing    `json:"listing"`
}

// listingRegistry is the keyed store of active listings. It performs no
// validation. Only active listings are stored: writing a zero price is the
// same as clearing, so absence is the single inactive representation.
type listingRegistry struct {
	listings map[string]ListingEntry
	journal  *journal
}

func newListingRegistry(j *journal) *listingRegistry {
	return &listingRegistry{
		listings: make(map[string]ListingEntry),
		journal:  j,
	}
}

// get returns the listing for the asset, or the zero Listing if absent.
func (r *listingRegistry) get(collection common.Address, tokenID *big.Int) domain.Listing {
	entry, ok := r.listings[domain.NewListingKey(collection, tokenID).String()]
	if !ok {
		return domain.Listing{}
	}
	return entry.Listing.Copy()
}

func (r *listingRegistry) set(collection common.Address, tokenID *big.Int, listing domain.Listing) {
	key := domain.NewListingKey(collection, tokenID)
	if !listing.Active() {
		r.clear(collection, tokenID)
		return
	}
	r.put(key, listing.Copy())
}

func (r *listingRegistry) clear(collection common.Address, tokenID *big.Int) {
	r.put(domain.NewListingKey(collection, tokenID), domain.Listing{})
}

func (r *listingRegistry) put(key domain.ListingKey, listing domain.Listing) {
	id := key.String()
	prev, existed := r.listings[id]

	if listing.Active() {
		r.listings[id] = ListingEntry{Key: key, Listing: listing}
	} else {
		delete(r.listings, id)
	}

	if r.journal != nil {
		r.journal.record(func() {
			if existed {
				r.listings[id] = prev
			} else {
				delete(r.listings, id)
			}
		})
	}
}

// all returns a copy of every active listing, ordered by key.
func (r *listingRegistry) all() []ListingEntry {
	result := make([]ListingEntry, 0, len(r.listings))
	for _, entry := range r.listings {
		result = append(result, ListingEntry{
			Key:     domain.NewListingKey(entry.Key.Collection, entry.Key.TokenID),
			Listing: entry.Listing.Copy(),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.String() < result[j].Key.String()
	})
	return result
}

func (r *listingRegistry) len() int {
	return len(r.listings)
}
