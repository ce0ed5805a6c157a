package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"nftmarket/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Kind:      string(domain.KindOf(err)),
		Retriable: domain.IsRetriable(err),
	})
}

func senderOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	sender, err := parseAddress(SenderHeader, r.Header.Get(SenderHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return common.Address{}, false
	}
	return sender, true
}

func assetOf(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	vars := mux.Vars(r)
	collection, err := parseAddress("collection", vars["collection"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return common.Address{}, nil, false
	}
	tokenID, err := parseAmount("tokenId", vars["tokenId"], true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return common.Address{}, nil, false
	}
	return collection, tokenID, true
}

// decodeBody reads a JSON body. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a base-10 unsigned integer. An optional empty value is
// zero. The uint256 bound is enforced by the marketplace.
func parseAmount(field, s string, required bool) (*big.Int, error) {
	if s == "" {
		if required {
			return nil, fmt.Errorf("%s: required", field)
		}
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, errors.New(field + ": must not be negative")
	}
	return v, nil
}
