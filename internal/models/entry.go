package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind identifies which record stream a history entry came from.
type EntryKind string

const (
	EntryKindTransferSent     EntryKind = "transfer_sent"
	EntryKindTransferReceived EntryKind = "transfer_received"
	EntryKindDeposit          EntryKind = "deposit"
	EntryKindWithdrawal       EntryKind = "withdrawal"
)

// Entry is a normalized, signed line item in an account's transaction
// history. Outgoing money carries a negative amount.
type Entry struct {
	Kind        EntryKind       `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	IsPositive  bool            `json:"is_positive"`
	RecordID    string          `json:"-"` // stable tie-break for equal timestamps
}
