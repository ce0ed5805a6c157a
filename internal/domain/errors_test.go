package domain

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMarketError(t *testing.T) {
	collection := common.HexToAddress("0xc0ffee")

	t.Run("wraps sentinel", func(t *testing.T) {
		err := NewAssetError("list", KindAlreadyListed, collection, big.NewInt(7))

		if !errors.Is(err, ErrAlreadyListed) {
			t.Error("Expected error to wrap ErrAlreadyListed")
		}
		if errors.Is(err, ErrNotListed) {
			t.Error("Expected error not to match ErrNotListed")
		}
	})

	t.Run("message names asset", func(t *testing.T) {
		err := NewAssetError("buyItem", KindNotListed, collection, big.NewInt(7))
		want := fmt.Sprintf("buyItem: NotListed(%s, 7): not listed", collection.Hex())
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}
	})

	t.Run("token id is copied", func(t *testing.T) {
		id := big.NewInt(1)
		err := NewAssetError("list", KindNotOwner, collection, id)
		id.SetInt64(2)
		if err.TokenID.Int64() != 1 {
			t.Error("Expected token id to be copied")
		}
	})

	t.Run("nil token id reads as zero", func(t *testing.T) {
		err := NewAssetError("cancelListing", KindNotListed, collection, nil)
		if err.TokenID == nil || err.TokenID.Sign() != 0 {
			t.Errorf("Expected zero token id, got %v", err.TokenID)
		}
	})
}

func TestKindOf(t *testing.T) {
	t.Run("market error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NewMarketError("withdrawProceeds", KindZeroBalance))
		if got := KindOf(err); got != KindZeroBalance {
			t.Errorf("KindOf = %q, want %q", got, KindZeroBalance)
		}
	})

	t.Run("collaborator sentinel", func(t *testing.T) {
		err := fmt.Errorf("ownerOf 99: %w", ErrInvalidToken)
		if got := KindOf(err); got != KindInvalidToken {
			t.Errorf("KindOf = %q, want %q", got, KindInvalidToken)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if got := KindOf(errors.New("boom")); got != "" {
			t.Errorf("KindOf = %q, want empty", got)
		}
		if got := KindOf(nil); got != "" {
			t.Errorf("KindOf(nil) = %q, want empty", got)
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "listing_fee", Err: baseErr}

	expected := "config error [listing_fee]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, baseErr) {
		t.Error("Expected ConfigError to unwrap")
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transfer failed", NewMarketError("withdrawProceeds", KindTransferFailed), true},
		{"wrapped transfer failed", fmt.Errorf("submit: %w", NewMarketError("withdrawProceeds", KindTransferFailed)), true},
		{"not listed", NewMarketError("buyItem", KindNotListed), false},
		{"config", &ConfigError{Field: "listing_fee", Err: errors.New("bad")}, false},
		{"network", NewNetworkError("deliver", errors.New("timeout")), true},
		{"fatal network", NewFatalNetworkError("deliver", errors.New("400")), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable() = %v, want %v", got, tt.want)
			}
		})
	}
}
