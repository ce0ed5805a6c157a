package engine

import (
	"context"
	"fmt"
	"math/big"

	"nftmarket/internal/domain"
	"nftmarket/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CommandType names a state-changing marketplace operation.
type CommandType string

const (
	CmdList     CommandType = "LIST"
	CmdCancel   CommandType = "CANCEL"
	CmdUpdate   CommandType = "UPDATE"
	CmdBuy      CommandType = "BUY"
	CmdWithdraw CommandType = "WITHDRAW"
)

// Command is one marketplace invocation. ID and Seq are assigned by the
// sequencer; Value is only meaningful for LIST and BUY.
type Command struct {
	ID         uuid.UUID      `json:"id"`
	Seq        uint64         `json:"seq"`
	Type       CommandType    `json:"type"`
	Sender     common.Address `json:"sender"`
	Value      *big.Int       `json:"value,omitempty"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"token_id,omitempty"`
	Price      *big.Int       `json:"price,omitempty"`
	Ts         int64          `json:"ts"` // Unix microseconds at sequencing
}

// NewList builds a LIST command.
func NewList(sender common.Address, value *big.Int, collection common.Address, tokenID, price *big.Int) *Command {
	return &Command{Type: CmdList, Sender: sender, Value: value, Collection: collection, TokenID: tokenID, Price: price}
}

// NewCancel builds a CANCEL command.
func NewCancel(sender common.Address, collection common.Address, tokenID *big.Int) *Command {
	return &Command{Type: CmdCancel, Sender: sender, Collection: collection, TokenID: tokenID}
}

// NewUpdate builds an UPDATE command.
func NewUpdate(sender common.Address, collection common.Address, tokenID, newPrice *big.Int) *Command {
	return &Command{Type: CmdUpdate, Sender: sender, Collection: collection, TokenID: tokenID, Price: newPrice}
}

// NewBuy builds a BUY command.
func NewBuy(sender common.Address, value *big.Int, collection common.Address, tokenID *big.Int) *Command {
	return &Command{Type: CmdBuy, Sender: sender, Value: value, Collection: collection, TokenID: tokenID}
}

// NewWithdraw builds a WITHDRAW command.
func NewWithdraw(sender common.Address) *Command {
	return &Command{Type: CmdWithdraw, Sender: sender}
}

// apply dispatches the command to the marketplace.
func (c *Command) apply(ctx context.Context, m *market.Marketplace) error {
	switch c.Type {
	case CmdList:
		return m.List(ctx, domain.NewMsg(c.Sender, c.Value), c.Collection, c.TokenID, c.Price)
	case CmdCancel:
		return m.CancelListing(ctx, c.Sender, c.Collection, c.TokenID)
	case CmdUpdate:
		return m.UpdateListing(ctx, c.Sender, c.Collection, c.TokenID, c.Price)
	case CmdBuy:
		return m.BuyItem(ctx, domain.NewMsg(c.Sender, c.Value), c.Collection, c.TokenID)
	case CmdWithdraw:
		return m.WithdrawProceeds(ctx, c.Sender)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
}
