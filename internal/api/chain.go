package api

import (
	"errors"
	"net/http"

	"nftmarket/internal/domain"
	"nftmarket/internal/infra/chain"

	"github.com/gorilla/mux"
)

// ChainRoutes exposes the in-memory asset registry so a development
// daemon can mint and approve tokens. The marketplace never calls these.
type ChainRoutes struct {
	registry *chain.Registry
}

func NewChainRoutes(registry *chain.Registry) *ChainRoutes {
	return &ChainRoutes{registry: registry}
}

// Register mounts the routes under /chain.
func (c *ChainRoutes) Register(r *mux.Router) {
	sub := r.PathPrefix("/chain").Subrouter()
	sub.HandleFunc("/{collection}/{tokenId}/mint", c.handleMint).Methods(http.MethodPost)
	sub.HandleFunc("/{collection}/{tokenId}/approve", c.handleApprove).Methods(http.MethodPost)
	sub.HandleFunc("/{collection}/{tokenId}/owner", c.handleOwner).Methods(http.MethodGet)
}

type mintRequest struct {
	To string `json:"to"`
}

func (c *ChainRoutes) handleMint(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := c.registry.Mint(collection, to, tokenID); err != nil {
		writeError(w, chainStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"owner": to.Hex()})
}

type approveRequest struct {
	Agent string `json:"agent"`
}

func (c *ChainRoutes) handleApprove(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderOf(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agent, err := parseAddress("agent", req.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := c.registry.Approve(sender, collection, agent, tokenID); err != nil {
		writeError(w, chainStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"approved": agent.Hex()})
}

func (c *ChainRoutes) handleOwner(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, ok := assetOf(w, r)
	if !ok {
		return
	}
	owner, err := c.registry.OwnerOf(r.Context(), collection, tokenID)
	if err != nil {
		writeError(w, chainStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner.Hex()})
}

func chainStatus(err error) int {
	switch {
	case errors.Is(err, chain.ErrTokenExists):
		return http.StatusConflict
	case errors.Is(err, chain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
