// Package market implements the listing/escrow state machine: the registry of
// active listings, the seller balance ledger and the five operations that move
// them (list, cancel, update, buy, withdraw).
//
// A Marketplace is not safe for concurrent use. Its host (engine.Sequencer)
// runs every invocation to completion before starting the next. The only
// interleaving it tolerates is reentrant calls made by collaborators from
// inside an invocation.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/event"
	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

const (
	OpList     = "list"
	OpCancel   = "cancelListing"
	OpUpdate   = "updateListing"
	OpBuy      = "buyItem"
	OpWithdraw = "withdrawProceeds"
)

// ErrAmountOutOfRange is returned for amounts or token ids outside uint256.
var ErrAmountOutOfRange = errors.New("amount outside uint256 range")

// Config holds the construction-time settings of a marketplace.
type Config struct {
	Address    common.Address // Identity the asset registry must approve
	ListingFee *big.Int       // Fixed for the marketplace lifetime
}

// Marketplace is the transaction orchestrator.
type Marketplace struct {
	address    common.Address
	listingFee *big.Int

	assets domain.AssetRegistry
	funds  domain.FundTransferer

	journal   *journal
	registry  *listingRegistry
	ledger    *ledger
	validator *validator
	guard     reentrancyGuard

	sinks []event.Sink
	now   func() time.Time

	depth    int    // Invocation nesting on the current call stack
	txSeq    uint64 // Top-level invocations started
	eventSeq uint64 // Events committed
}

// NewMarketplace creates an empty marketplace. Panics if the fee is not a
// valid uint256.
func NewMarketplace(cfg Config, assets domain.AssetRegistry, funds domain.FundTransferer) *Marketplace {
	fee := safe.Copy(cfg.ListingFee)
	if !safe.IsUint256(fee) {
		panic(fmt.Sprintf("INVALID_LISTING_FEE: %s", fee))
	}

	m := &Marketplace{
		address:    cfg.Address,
		listingFee: fee,
		assets:     assets,
		funds:      funds,
		journal:    newJournal(),
		now:        time.Now,
	}
	m.registry = newListingRegistry(m.journal)
	m.ledger = newLedger(m.journal, func() uint64 { return m.txSeq })
	m.validator = &validator{
		self:     cfg.Address,
		assets:   assets,
		registry: m.registry,
		ledger:   m.ledger,
	}
	return m
}

// Subscribe registers a sink for committed events.
func (m *Marketplace) Subscribe(sink event.Sink) {
	m.sinks = append(m.sinks, sink)
}

// List offers an asset for sale. msg.Value is the listing fee payment; it is
// retained by the marketplace and not refundable.
func (m *Marketplace) List(ctx context.Context, msg domain.Msg, collection common.Address, tokenID, price *big.Int) error {
	return m.execute(OpList, func() error {
		if err := checkRange(OpList, msg.Value, tokenID, price); err != nil {
			return err
		}
		if err := m.validator.requireNotListed(OpList, collection, tokenID); err != nil {
			return err
		}
		if err := m.validator.requireOwner(ctx, OpList, collection, tokenID, msg.Sender); err != nil {
			return err
		}
		if safe.Copy(msg.Value).Cmp(m.listingFee) < 0 {
			return domain.NewAssetError(OpList, domain.KindNotEnoughFundsForListingFee, collection, tokenID)
		}
		if price == nil || price.Sign() <= 0 {
			return domain.NewAssetError(OpList, domain.KindPriceMustBeAboveOrEqualZero, collection, tokenID)
		}
		if err := m.validator.requireApprovedForTransfer(ctx, OpList, collection, tokenID); err != nil {
			return err
		}
		if err := m.validator.requireFundsFit(OpList, collection, tokenID, nil, safe.Copy(msg.Value)); err != nil {
			return err
		}

		m.registry.set(collection, tokenID, domain.Listing{Price: price, Seller: msg.Sender})
		m.ledger.collectFee(safe.Copy(msg.Value))
		m.journal.emit(&event.ItemListed{
			Seller:     msg.Sender,
			Collection: collection,
			TokenID:    safe.Copy(tokenID),
			Price:      safe.Copy(price),
		})
		return nil
	})
}

// CancelListing removes the caller's listing.
func (m *Marketplace) CancelListing(ctx context.Context, sender common.Address, collection common.Address, tokenID *big.Int) error {
	return m.execute(OpCancel, func() error {
		if err := checkRange(OpCancel, tokenID); err != nil {
			return err
		}
		if err := m.validator.requireOwner(ctx, OpCancel, collection, tokenID, sender); err != nil {
			return err
		}
		if _, err := m.validator.requireListed(OpCancel, collection, tokenID); err != nil {
			return err
		}

		m.registry.clear(collection, tokenID)
		m.journal.emit(&event.ItemCanceled{
			Seller:     sender,
			Collection: collection,
			TokenID:    safe.Copy(tokenID),
		})
		return nil
	})
}

// UpdateListing changes the price of the caller's listing. The seller of
// record is kept.
func (m *Marketplace) UpdateListing(ctx context.Context, sender common.Address, collection common.Address, tokenID, newPrice *big.Int) error {
	return m.execute(OpUpdate, func() error {
		release, err := m.guard.enter(OpUpdate)
		if err != nil {
			return err
		}
		defer release()

		if err := checkRange(OpUpdate, tokenID, newPrice); err != nil {
			return err
		}
		if err := m.validator.requireOwner(ctx, OpUpdate, collection, tokenID, sender); err != nil {
			return err
		}
		listing, err := m.validator.requireListed(OpUpdate, collection, tokenID)
		if err != nil {
			return err
		}
		if newPrice == nil || newPrice.Sign() <= 0 {
			return domain.NewAssetError(OpUpdate, domain.KindPriceMustBeAboveOrEqualZero, collection, tokenID)
		}

		m.registry.set(collection, tokenID, domain.Listing{Price: newPrice, Seller: listing.Seller})
		m.journal.emit(&event.ItemUpdated{
			Seller:     sender,
			Collection: collection,
			TokenID:    safe.Copy(tokenID),
			Price:      safe.Copy(newPrice),
		})
		return nil
	})
}

// BuyItem purchases a listed asset. The whole of msg.Value is credited to the
// seller; overpayment is not refunded.
func (m *Marketplace) BuyItem(ctx context.Context, msg domain.Msg, collection common.Address, tokenID *big.Int) error {
	return m.execute(OpBuy, func() error {
		release, err := m.guard.enter(OpBuy)
		if err != nil {
			return err
		}
		defer release()

		if err := checkRange(OpBuy, msg.Value, tokenID); err != nil {
			return err
		}
		listing, err := m.validator.requireListed(OpBuy, collection, tokenID)
		if err != nil {
			return err
		}
		payment := safe.Copy(msg.Value)
		if payment.Cmp(listing.Price) < 0 {
			return domain.NewAssetError(OpBuy, domain.KindNotEnoughFundsToBuy, collection, tokenID)
		}
		if err := m.validator.requireFundsFit(OpBuy, collection, tokenID, &listing.Seller, payment); err != nil {
			return err
		}

		// The listing is cleared before the external transfer so a callback
		// cannot buy the same listing twice.
		m.registry.clear(collection, tokenID)
		if err := m.assets.TransferFrom(ctx, m.address, collection, listing.Seller, msg.Sender, tokenID); err != nil {
			return fmt.Errorf("%s: transfer asset: %w", OpBuy, err)
		}
		m.ledger.credit(listing.Seller, payment)
		m.journal.emit(&event.ItemPurchased{
			Buyer:      msg.Sender,
			Seller:     listing.Seller,
			Collection: collection,
			TokenID:    safe.Copy(tokenID),
			Price:      listing.Price,
		})
		return nil
	})
}

// WithdrawProceeds pays the caller's whole balance out. The balance is zeroed
// before the transfer; if the transfer fails the zeroing is rolled back.
func (m *Marketplace) WithdrawProceeds(ctx context.Context, sender common.Address) error {
	return m.execute(OpWithdraw, func() error {
		release, err := m.guard.enter(OpWithdraw)
		if err != nil {
			return err
		}
		defer release()

		if _, err := m.validator.requireNonZeroBalance(OpWithdraw, sender); err != nil {
			return err
		}

		amount := m.ledger.zero(sender)
		if !m.funds.Transfer(ctx, sender, safe.Copy(amount)) {
			return domain.NewMarketError(OpWithdraw, domain.KindTransferFailed)
		}
		m.journal.emit(&event.ProceedsWithdrawn{
			Seller: sender,
			Amount: amount,
		})
		return nil
	})
}

// execute runs one invocation atomically. Errors and panics revert every
// write made since the invocation started, including writes of nested
// invocations that themselves succeeded. Events are delivered only when the
// outermost invocation commits.
func (m *Marketplace) execute(op string, fn func() error) (err error) {
	if m.depth == 0 {
		m.txSeq++
	}
	cp := m.journal.checkpoint()
	m.depth++

	defer func() {
		m.depth--
		if r := recover(); r != nil {
			m.journal.revertTo(cp)
			if m.depth == 0 {
				m.journal.reset()
			}
			panic(r)
		}

		if err != nil {
			m.journal.revertTo(cp)
		}
		if m.depth > 0 {
			return
		}

		events := m.journal.reset()
		if err != nil {
			slog.Debug("Operation reverted", slog.String("op", op), slog.Uint64("tx", m.txSeq), slog.Any("error", err))
			return
		}
		m.ledger.verifyInvariant()
		m.commit(events)
		slog.Debug("Operation committed", slog.String("op", op), slog.Uint64("tx", m.txSeq), slog.Int("events", len(events)))
	}()

	return fn()
}

func (m *Marketplace) commit(events []event.Event) {
	ts := m.now().UnixMicro()
	for _, ev := range events {
		m.eventSeq++
		event.Stamp(ev, m.eventSeq, ts)
		for _, sink := range m.sinks {
			sink.Publish(ev)
		}
	}
}

func checkRange(op string, values ...*big.Int) error {
	for _, v := range values {
		if v != nil && !safe.IsUint256(v) {
			return fmt.Errorf("%s: %w: %s", op, ErrAmountOutOfRange, v)
		}
	}
	return nil
}

// ======================================================================================
// Queries
// ======================================================================================

// Address returns the marketplace identity.
func (m *Marketplace) Address() common.Address {
	return m.address
}

// ListingFee returns the configured listing fee.
func (m *Marketplace) ListingFee() *big.Int {
	return safe.Copy(m.listingFee)
}

// GetListing returns the listing for the asset. ok is false when the asset is
// not listed.
func (m *Marketplace) GetListing(collection common.Address, tokenID *big.Int) (domain.Listing, bool) {
	listing := m.registry.get(collection, tokenID)
	return listing, listing.Active()
}

// GetProceeds returns the withdrawable balance of a seller.
func (m *Marketplace) GetProceeds(seller common.Address) *big.Int {
	return m.ledger.balance(seller)
}

// FeeReserve returns the listing fees retained so far.
func (m *Marketplace) FeeReserve() *big.Int {
	return safe.Copy(m.ledger.feeReserve)
}

// Held returns the native funds the marketplace holds.
func (m *Marketplace) Held() *big.Int {
	return safe.Copy(m.ledger.held)
}

// Listings returns every active listing, ordered by key.
func (m *Marketplace) Listings() []ListingEntry {
	return m.registry.all()
}

// VerifyInvariant panics if the treasury does not equal the fee reserve plus
// all seller balances.
func (m *Marketplace) VerifyInvariant() {
	m.ledger.verifyInvariant()
}
