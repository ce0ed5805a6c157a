package storage

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts and token ids are stored as base-10 strings; SQLite integers cannot
// hold 256-bit values.

// CommandRecord is one row of the write-ahead command journal.
type CommandRecord struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement:false"`
	ID         string `gorm:"uniqueIndex;size:36"`
	Type       string `gorm:"size:16"`
	Sender     string `gorm:"size:42"`
	Value      string
	Collection string `gorm:"size:42"`
	TokenID    string
	Price      string
	Ts         int64
}

// EventRecord is a committed marketplace event. Payload is the JSON encoding.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Seq        uint64 `gorm:"index"`
	Type       string `gorm:"index;size:32"`
	Collection string `gorm:"index:idx_event_asset;size:42"`
	TokenID    string `gorm:"index:idx_event_asset"`
	Payload    string
	Ts         int64
}

// ListingRecord is an active listing in the latest checkpoint.
type ListingRecord struct {
	Collection string `gorm:"primaryKey;size:42"`
	TokenID    string `gorm:"primaryKey"`
	Price      string
	Seller     string `gorm:"size:42"`
}

// BalanceRecord is a seller balance in the latest checkpoint.
type BalanceRecord struct {
	Seller  string `gorm:"primaryKey;size:42"`
	Amount  string
	LastSeq uint64
}

// TreasuryRecord holds the singleton treasury totals and counters of the
// latest checkpoint. NextSeq is the first journaled command not yet applied.
type TreasuryRecord struct {
	ID         uint `gorm:"primaryKey"`
	NextSeq    uint64
	TxSeq      uint64
	EventSeq   uint64
	Held       string
	FeeReserve string
	UpdatedAt  time.Time
}

const treasuryRowID = 1

func formatInt(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseInt(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt %s %q", field, s)
	}
	return v, nil
}

func formatAddress(a common.Address) string {
	return a.Hex()
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("corrupt %s %q", field, s)
	}
	return common.HexToAddress(s), nil
}
