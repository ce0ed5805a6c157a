// Package api exposes the marketplace over HTTP. Every call is routed
// through the sequencer, so reads observe committed state only.
package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"nftmarket/internal/domain"
	"nftmarket/internal/engine"
	"nftmarket/internal/infra"
	"nftmarket/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
)

// SenderHeader carries the caller identity.
const SenderHeader = "X-Sender"

type Server struct {
	seq     *engine.Sequencer
	metrics *infra.Metrics
	feed    http.Handler
}

// NewServer creates the HTTP front. metrics and feed may be nil.
func NewServer(seq *engine.Sequencer, metrics *infra.Metrics, feed http.Handler) *Server {
	return &Server{seq: seq, metrics: metrics, feed: feed}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/listings", s.handleList).Methods(http.MethodPost)
	r.HandleFunc("/listings", s.handleGetListings).Methods(http.MethodGet)
	r.HandleFunc("/listings/{collection}/{tokenId}", s.handleGetListing).Methods(http.MethodGet)
	r.HandleFunc("/listings/{collection}/{tokenId}", s.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/listings/{collection}/{tokenId}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/listings/{collection}/{tokenId}/buy", s.handleBuy).Methods(http.MethodPost)
	r.HandleFunc("/proceeds/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/proceeds/{seller}", s.handleGetProceeds).Methods(http.MethodGet)
	r.HandleFunc("/fee", s.handleGetFee).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	if s.feed != nil {
		r.Handle("/ws", s.feed).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

type listRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
	Value      string `json:"value"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}
	var req listRequest
	if !decodeBody(w, r, &req) {
		return
	}
	collection, err := parseAddress("collection", req.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenID, err := parseAmount("token_id", req.TokenID, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount("price", req.Price, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, err := parseAmount("value", req.Value, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.submit(w, r, http.StatusCreated, engine.NewList(sender, value, collection, tokenID, price))
}

type updateRequest struct {
	Price string `json:"price"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := parseAmount("price", req.Price, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.submit(w, r, http.StatusOK, engine.NewUpdate(sender, collection, tokenID, price))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}

	s.submit(w, r, http.StatusOK, engine.NewCancel(sender, collection, tokenID))
}

type buyRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	value, err := parseAmount("value", req.Value, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.submit(w, r, http.StatusOK, engine.NewBuy(sender, value, collection, tokenID))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}

	s.submit(w, r, http.StatusOK, engine.NewWithdraw(sender))
}

type commandResponse struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, status int, cmd *engine.Command) {
	if err := s.seq.Submit(r.Context(), cmd); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, status, commandResponse{ID: cmd.ID.String(), Seq: cmd.Seq})
}

type listingResponse struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
	Seller     string `json:"seller"`
	Active     bool   `json:"active"`
}

func newListingResponse(collection common.Address, tokenID *big.Int, l domain.Listing) listingResponse {
	price := l.Price
	if price == nil {
		price = new(big.Int)
	}
	return listingResponse{
		Collection: collection.Hex(),
		TokenID:    tokenID.String(),
		Price:      price.String(),
		Seller:     l.Seller.Hex(),
		Active:     l.Active(),
	}
}

// handleGetListing answers for any asset; an unlisted one reports the zero
// record with active=false.
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}

	var listing domain.Listing
	if !s.read(w, r, func(m *market.Marketplace) {
		listing, _ = m.GetListing(collection, tokenID)
	}) {
		return
	}
	writeJSON(w, http.StatusOK, newListingResponse(collection, tokenID, listing))
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	var entries []market.ListingEntry
	if !s.read(w, r, func(m *market.Marketplace) {
		entries = m.Listings()
	}) {
		return
	}

	resp := make([]listingResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newListingResponse(e.Key.Collection, e.Key.TokenID, e.Listing))
	}
	writeJSON(w, http.StatusOK, resp)
}

type proceedsResponse struct {
	Seller string `json:"seller"`
	Amount string `json:"amount"`
}

func (s *Server) handleGetProceeds(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress("seller", mux.Vars(r)["seller"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var amount *big.Int
	if !s.read(w, r, func(m *market.Marketplace) {
		amount = m.GetProceeds(seller)
	}) {
		return
	}
	writeJSON(w, http.StatusOK, proceedsResponse{Seller: seller.Hex(), Amount: amount.String()})
}

type feeResponse struct {
	ListingFee      string `json:"listing_fee"`
	ListingFeeEther string `json:"listing_fee_ether"`
	FeeReserve      string `json:"fee_reserve"`
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	var fee, reserve *big.Int
	if !s.read(w, r, func(m *market.Marketplace) {
		fee = m.ListingFee()
		reserve = m.FeeReserve()
	}) {
		return
	}
	writeJSON(w, http.StatusOK, feeResponse{
		ListingFee:      fee.String(),
		ListingFeeEther: infra.FormatEther(fee),
		FeeReserve:      reserve.String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, errors.New("metrics disabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) read(w http.ResponseWriter, r *http.Request, fn func(*market.Marketplace)) bool {
	if err := s.seq.Read(r.Context(), fn); err != nil {
		writeError(w, statusOf(err), err)
		return false
	}
	return true
}

// statusOf maps a command outcome to an HTTP status.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotOwner, domain.KindTransferNotApproved:
		return http.StatusForbidden
	case domain.KindNotListed, domain.KindInvalidToken:
		return http.StatusNotFound
	case domain.KindAlreadyListed, domain.KindReentrant, domain.KindZeroBalance:
		return http.StatusConflict
	case domain.KindNotEnoughFundsForListingFee, domain.KindNotEnoughFundsToBuy:
		return http.StatusPaymentRequired
	case domain.KindPriceMustBeAboveOrEqualZero, domain.KindTreasuryOverflow:
		return http.StatusBadRequest
	case domain.KindTransferFailed:
		return http.StatusFailedDependency
	}

	switch {
	case errors.Is(err, market.ErrAmountOutOfRange), errors.Is(err, engine.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	slog.Error("Unexpected command failure", slog.Any("error", err))
	return http.StatusInternalServerError
}
