package models

import (
	"database/sql"
	"time"
)

// RequestKind tags a money-movement request as a deposit or withdrawal.
type RequestKind string

const (
	RequestKindDeposit  RequestKind = "deposit"
	RequestKindWithdraw RequestKind = "withdraw"
)

// RequestStatus is the lifecycle state of a deposit/withdrawal request.
// A request transitions exactly once from pending to approved or
// rejected; terminal states are immutable.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Request is a deposit or withdrawal awaiting admin review. Amount is
// ciphertext under the owner's IV; ChequeNumber is the unique
// human-readable reference code.
type Request struct {
	ID           string         `json:"id" db:"id"`
	Kind         RequestKind    `json:"kind" db:"-"`
	UserID       string         `json:"user_id" db:"user_id"`
	Amount       string         `json:"-" db:"amount"`
	ChequeNumber string         `json:"cheque_number" db:"cheque_number"`
	Status       RequestStatus  `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	ExtraData    sql.NullString `json:"-" db:"extra_data"` // withdrawal method + details, JSON
}
