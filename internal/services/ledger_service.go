package services

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/securebank/backend/internal/audit"
	"github.com/securebank/backend/internal/crypto"
	"github.com/securebank/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService owns every balance read and write. No other component
// touches the users.balance column.
type LedgerService struct {
	db    *sql.DB
	codec *crypto.Codec
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB, codec *crypto.Codec) *LedgerService {
	return &LedgerService{
		db:    db,
		codec: codec,
		audit: audit.NewLogger(),
	}
}

// Balance decrypts the balance of an already-loaded user row.
func (s *LedgerService) Balance(user *models.User) (decimal.Decimal, error) {
	return s.decryptBalance(user)
}

// GetBalance loads a user and returns the decrypted balance.
func (s *LedgerService) GetBalance(userID string) (decimal.Decimal, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, username, iv, balance, version FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Username, &u.IV, &u.Balance, &u.Version)

	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	return s.decryptBalance(&u)
}

// ApplyDelta applies a signed amount to a user's balance inside the
// given transaction. A result below zero fails with ErrInsufficientFunds
// and performs no mutation; a stale version fails with ErrConflict.
func (s *LedgerService) ApplyDelta(tx *sql.Tx, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	user, err := s.lockUser(tx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.updateBalance(tx, user, delta)
}

// Transfer moves amount from sender to the account owning
// receiverUsername. Debit, credit and the transaction record share one
// transaction boundary; version conflicts are retried transparently.
func (s *LedgerService) Transfer(sender *models.User, receiverUsername string, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var record *models.Transaction
	err := retryOnConflict(func() error {
		tr, err := s.transferOnce(sender, receiverUsername, amount)
		if err != nil {
			return err
		}
		record = tr
		return nil
	})

	if err != nil {
		s.audit.LogError("transfer", sender.ID, err)
		return nil, err
	}

	s.audit.LogTransfer(record.ID, record.SenderID, record.ReceiverID, amount.StringFixed(2), "SUCCESS")
	return record, nil
}

func (s *LedgerService) transferOnce(sender *models.User, receiverUsername string, amount decimal.Decimal) (*models.Transaction, error) {
	// Precondition order matters: funds are checked before the receiver
	// is resolved, and self-transfer is the last gate.
	balance, err := s.GetBalance(sender.ID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	var receiverID, receiverName string
	err = s.db.QueryRow(`
		SELECT id, username FROM users WHERE username = $1
	`, receiverUsername).Scan(&receiverID, &receiverName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, receiverUsername)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up receiver: %w", err)
	}

	if receiverID == sender.ID {
		return nil, fmt.Errorf("%w: cannot transfer to yourself", ErrValidation)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks.
	firstLock, secondLock := sender.ID, receiverID
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	first, err := s.lockUser(tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := s.lockUser(tx, secondLock)
	if err != nil {
		return nil, err
	}

	senderRow, receiverRow := first, second
	if first.ID != sender.ID {
		senderRow, receiverRow = second, first
	}

	if _, err := s.updateBalance(tx, senderRow, amount.Neg()); err != nil {
		return nil, err
	}
	if _, err := s.updateBalance(tx, receiverRow, amount); err != nil {
		return nil, err
	}

	senderIV, err := decodeIV(senderRow.IV)
	if err != nil {
		return nil, err
	}

	record := &models.Transaction{
		ID:         uuid.NewString(),
		SenderID:   senderRow.ID,
		ReceiverID: receiverRow.ID,
		CreatedAt:  time.Now(),
	}
	if record.Amount, err = s.codec.Encrypt(amount.StringFixed(2), senderIV); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if record.EncryptedSender, err = s.codec.Encrypt(senderRow.Username, senderIV); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if record.EncryptedReceiver, err = s.codec.Encrypt(receiverRow.Username, senderIV); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	_, err = tx.Exec(`
		INSERT INTO transactions (id, sender_id, receiver_id, amount, encrypted_sender, encrypted_receiver, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.SenderID, record.ReceiverID, record.Amount,
		record.EncryptedSender, record.EncryptedReceiver, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	return record, nil
}

func (s *LedgerService) lockUser(tx *sql.Tx, userID string) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(`
		SELECT id, username, iv, balance, version FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&u.ID, &u.Username, &u.IV, &u.Balance, &u.Version)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %s: %w", userID, err)
	}

	return &u, nil
}

// updateBalance is the read-modify-write span: the caller must already
// hold the row lock for user.
func (s *LedgerService) updateBalance(tx *sql.Tx, user *models.User, delta decimal.Decimal) (decimal.Decimal, error) {
	current, err := s.decryptBalance(user)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := current.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}

	iv, err := decodeIV(user.IV)
	if err != nil {
		return decimal.Zero, err
	}

	encrypted, err := s.codec.Encrypt(newBalance.StringFixed(2), iv)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	result, err := tx.Exec(`
		UPDATE users SET balance = $1, version = version + 1 WHERE id = $2 AND version = $3`,
		encrypted, user.ID, user.Version)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance for %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, err
	}
	if rowsAffected == 0 {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrConflict, user.ID)
	}

	return newBalance, nil
}

func (s *LedgerService) decryptBalance(user *models.User) (decimal.Decimal, error) {
	iv, err := decodeIV(user.IV)
	if err != nil {
		return decimal.Zero, err
	}

	plaintext, err := s.codec.Decrypt(user.Balance, iv)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance of user %s: %v", ErrIntegrity, user.ID, err)
	}

	balance, err := decimal.NewFromString(plaintext)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance of user %s is not a decimal", ErrIntegrity, user.ID)
	}

	return balance, nil
}

func decodeIV(encoded string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed IV", ErrIntegrity)
	}
	return iv, nil
}
