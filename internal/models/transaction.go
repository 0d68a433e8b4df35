package models

import "time"

// Transaction is an immutable transfer record. Amount and both usernames
// are encrypted under the sender's IV so history rendering never needs a
// plaintext join against the receiver.
type Transaction struct {
	ID                string    `json:"id" db:"id"`
	SenderID          string    `json:"sender_id" db:"sender_id"`
	ReceiverID        string    `json:"receiver_id" db:"receiver_id"`
	Amount            string    `json:"-" db:"amount"`
	EncryptedSender   string    `json:"-" db:"encrypted_sender"`
	EncryptedReceiver string    `json:"-" db:"encrypted_receiver"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
