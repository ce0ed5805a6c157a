package domain

import (
	"errors"
	"fmt"
	"math/big"

	"nftmarket/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorKind names a marketplace failure. Kinds are stable and exposed to API clients.
type ErrorKind string

const (
	KindAlreadyListed               ErrorKind = "AlreadyListed"
	KindNotListed                   ErrorKind = "NotListed"
	KindNotOwner                    ErrorKind = "NotOwner"
	KindNotEnoughFundsForListingFee ErrorKind = "NotEnoughFundsForListingFee"
	KindPriceMustBeAboveOrEqualZero ErrorKind = "PriceMustBeAboveOrEqualZero"
	KindTransferNotApproved         ErrorKind = "TransferNotApproved"
	KindNotEnoughFundsToBuy         ErrorKind = "NotEnoughFundsToBuy"
	KindZeroBalance                 ErrorKind = "ZeroBalance"
	KindTransferFailed              ErrorKind = "TransferFailed"
	KindReentrant                   ErrorKind = "Reentrant"
	KindInvalidToken                ErrorKind = "InvalidToken"
	KindTreasuryOverflow            ErrorKind = "TreasuryOverflow"
)

var (
	// ErrAlreadyListed is returned by list on an existing active listing.
	ErrAlreadyListed = errors.New("already listed")

	// ErrNotListed is returned by cancel, update and buy on an absent listing.
	ErrNotListed = errors.New("not listed")

	// ErrNotOwner is returned when the caller does not own the asset.
	ErrNotOwner = errors.New("not owner")

	// ErrNotEnoughFundsForListingFee is returned when the list payment is below the fee.
	ErrNotEnoughFundsForListingFee = errors.New("not enough funds for listing fee")

	// ErrPriceMustBeAboveOrEqualZero is returned for a price that is not strictly positive.
	// The name is historical.
	ErrPriceMustBeAboveOrEqualZero = errors.New("price must be above zero")

	// ErrTransferNotApproved is returned when the marketplace may not move the asset.
	ErrTransferNotApproved = errors.New("transfer not approved for marketplace")

	// ErrNotEnoughFundsToBuy is returned when the buy payment is below the price.
	ErrNotEnoughFundsToBuy = errors.New("not enough funds to buy")

	// ErrZeroBalance is returned by withdraw when nothing is owed.
	ErrZeroBalance = errors.New("zero balance")

	// ErrTransferFailed is returned when the native fund transfer reports failure.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrReentrant is returned when a guarded operation is re-entered.
	ErrReentrant = errors.New("reentrant call")

	// ErrInvalidToken is returned by the asset registry for unknown tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTreasuryOverflow is returned when a payment would push held funds or a
	// seller balance past uint256.
	ErrTreasuryOverflow = errors.New("payment overflows marketplace funds")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

var kindSentinels = map[ErrorKind]error{
	KindAlreadyListed:               ErrAlreadyListed,
	KindNotListed:                   ErrNotListed,
	KindNotOwner:                    ErrNotOwner,
	KindNotEnoughFundsForListingFee: ErrNotEnoughFundsForListingFee,
	KindPriceMustBeAboveOrEqualZero: ErrPriceMustBeAboveOrEqualZero,
	KindTransferNotApproved:         ErrTransferNotApproved,
	KindNotEnoughFundsToBuy:         ErrNotEnoughFundsToBuy,
	KindZeroBalance:                 ErrZeroBalance,
	KindTransferFailed:              ErrTransferFailed,
	KindReentrant:                   ErrReentrant,
	KindInvalidToken:                ErrInvalidToken,
	KindTreasuryOverflow:            ErrTreasuryOverflow,
}

// MarketError is a named, fatal-local failure of one marketplace operation.
// It wraps the sentinel for its kind so errors.Is works against the sentinels.
type MarketError struct {
	Kind       ErrorKind
	Op         string          // Operation that failed (e.g., "list", "buyItem")
	Collection *common.Address // Set for per-asset failures
	TokenID    *big.Int
	Err        error
}

func (e *MarketError) Error() string {
	if e.Collection != nil {
		return fmt.Sprintf("%s: %s(%s, %s): %v", e.Op, e.Kind, e.Collection.Hex(), e.TokenID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MarketError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether resubmitting the same call may succeed without
// any other state change. Only a rejected payout qualifies.
func (e *MarketError) IsRetriable() bool {
	return e.Kind == KindTransferFailed
}

// NewMarketError creates an error of the given kind wrapping its sentinel.
func NewMarketError(op string, kind ErrorKind) *MarketError {
	return &MarketError{Op: op, Kind: kind, Err: kindSentinels[kind]}
}

// NewAssetError creates an error of the given kind for one asset.
func NewAssetError(op string, kind ErrorKind, collection common.Address, tokenID *big.Int) *MarketError {
	return &MarketError{
		Op:         op,
		Kind:       kind,
		Collection: &collection,
		TokenID:    safe.Copy(tokenID),
		Err:        kindSentinels[kind],
	}
}

// KindOf returns the marketplace error kind of err, or "" if err is not a
// marketplace failure. Sentinels returned by collaborators (ErrInvalidToken
// from an asset registry) are recognised too.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var me *MarketError
	if errors.As(err, &me) {
		return me.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "deliver")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
