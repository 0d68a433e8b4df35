package models

import "time"

// User is an account holder. Balance is stored as ciphertext encrypted
// under the account's IV; Version backs optimistic locking of balance
// updates.
type User struct {
	ID             string    `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	IV             string    `json:"-" db:"iv"` // base64, generated once at registration
	Balance        string    `json:"-" db:"balance"`
	IsAdmin        bool      `json:"is_admin" db:"is_admin"`
	Version        int       `json:"-" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
