package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/securebank/backend/internal/audit"
	"github.com/securebank/backend/internal/crypto"
	"github.com/securebank/backend/internal/models"
	"github.com/shopspring/decimal"
)

// RequestService owns the deposit/withdrawal lifecycle: creation in
// pending state and the single transition to approved or rejected, with
// the ledger mutation applied in the same unit of work.
type RequestService struct {
	db      *sql.DB
	codec   *crypto.Codec
	ledger  *LedgerService
	cheques *ChequeService
	audit   *audit.Logger
}

func NewRequestService(db *sql.DB, codec *crypto.Codec, ledger *LedgerService) *RequestService {
	return &RequestService{
		db:      db,
		codec:   codec,
		ledger:  ledger,
		cheques: NewChequeService(),
		audit:   audit.NewLogger(),
	}
}

// RequestSummary is a request with its amount decrypted for display.
type RequestSummary struct {
	ID           string               `json:"id"`
	ChequeNumber string               `json:"cheque_number"`
	Amount       decimal.Decimal      `json:"amount"`
	Status       models.RequestStatus `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
}

// PendingDeposit is an admin-queue line for a pending deposit.
type PendingDeposit struct {
	RequestSummary
	Username string `json:"username"`
}

// PendingWithdrawal is an admin-queue line for a pending withdrawal,
// annotated with the owner's current balance so the reviewer can see
// whether approval would bounce.
type PendingWithdrawal struct {
	RequestSummary
	Username           string          `json:"username"`
	UserBalance        decimal.Decimal `json:"user_balance"`
	HasSufficientFunds bool            `json:"has_sufficient_funds"`
}

// CreateDeposit records a pending deposit request for user.
func (s *RequestService) CreateDeposit(user *models.User, amount decimal.Decimal) (*models.Request, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	req, err := s.insertRequest(models.RequestKindDeposit, user, amount, nil)
	if err != nil {
		return nil, err
	}

	s.audit.LogRequest("DEPOSIT_REQUEST", req.ID, user.ID, amount.StringFixed(2), "PENDING")
	return req, nil
}

// CreateWithdraw records a pending withdrawal request. The balance is
// checked at request time and checked again at approval time.
func (s *RequestService) CreateWithdraw(user *models.User, amount decimal.Decimal, method string, details map[string]string) (*models.Request, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	balance, err := s.ledger.GetBalance(user.ID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	var extra *string
	if method != "" || len(details) > 0 {
		payload := map[string]any{}
		if method != "" {
			payload["method"] = method
		}
		if len(details) > 0 {
			payload["details"] = details
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode withdrawal details: %w", err)
		}
		encoded := string(data)
		extra = &encoded
	}

	req, err := s.insertRequest(models.RequestKindWithdraw, user, amount, extra)
	if err != nil {
		return nil, err
	}

	s.audit.LogRequest("WITHDRAW_REQUEST", req.ID, user.ID, amount.StringFixed(2), "PENDING")
	return req, nil
}

func (s *RequestService) insertRequest(kind models.RequestKind, user *models.User, amount decimal.Decimal, extra *string) (*models.Request, error) {
	iv, err := decodeIV(user.IV)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.codec.Encrypt(amount.StringFixed(2), iv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	req := &models.Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    user.ID,
		Amount:    encrypted,
		Status:    models.RequestStatusPending,
		CreatedAt: time.Now(),
	}

	switch kind {
	case models.RequestKindDeposit:
		req.ChequeNumber = s.cheques.GenerateChequeNumber("DEP")
		_, err = s.db.Exec(`
			INSERT INTO deposits (id, user_id, amount, cheque_number, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			req.ID, req.UserID, req.Amount, req.ChequeNumber, req.Status, req.CreatedAt)
	case models.RequestKindWithdraw:
		req.ChequeNumber = s.cheques.GenerateChequeNumber("WDR")
		if extra != nil {
			req.ExtraData = sql.NullString{String: *extra, Valid: true}
		}
		_, err = s.db.Exec(`
			INSERT INTO withdraws (id, user_id, amount, cheque_number, status, created_at, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			req.ID, req.UserID, req.Amount, req.ChequeNumber, req.Status, req.CreatedAt, req.ExtraData)
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrValidation, kind)
	}

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%w: duplicate cheque number %s", ErrIntegrity, req.ChequeNumber)
		}
		return nil, fmt.Errorf("failed to store %s request: %w", kind, err)
	}

	return req, nil
}

// SetStatus moves a pending request to approved or rejected. Approval
// applies the ledger mutation in the same transaction; if the mutation
// fails the request stays pending. Terminal states never transition
// again.
func (s *RequestService) SetStatus(kind models.RequestKind, requestID string, status models.RequestStatus) (*models.Request, error) {
	if status != models.RequestStatusApproved && status != models.RequestStatusRejected {
		return nil, fmt.Errorf("%w: status must be approved or rejected", ErrValidation)
	}

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var req *models.Request
	err = retryOnConflict(func() error {
		r, err := s.setStatusOnce(kind, table, requestID, status)
		if err != nil {
			return err
		}
		req = r
		return nil
	})

	if err != nil {
		s.audit.LogError(requestID, "", err)
		return nil, err
	}

	s.audit.LogRequest(fmt.Sprintf("%s_%s", kindTag(kind), statusTag(status)), req.ID, req.UserID, "", string(status))
	return req, nil
}

func (s *RequestService) setStatusOnce(kind models.RequestKind, table, requestID string, status models.RequestStatus) (*models.Request, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	req := &models.Request{Kind: kind}
	err = tx.QueryRow(fmt.Sprintf(`
		SELECT id, user_id, amount, cheque_number, status, created_at FROM %s WHERE id = $1 FOR UPDATE
	`, table), requestID).Scan(&req.ID, &req.UserID, &req.Amount, &req.ChequeNumber, &req.Status, &req.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s request %s", ErrNotFound, kind, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s request: %w", kind, err)
	}

	if req.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("%w: request is already %s", ErrValidation, req.Status)
	}

	if status == models.RequestStatusApproved {
		owner, err := s.ledger.lockUser(tx, req.UserID)
		if err != nil {
			return nil, err
		}

		iv, err := decodeIV(owner.IV)
		if err != nil {
			return nil, err
		}
		plaintext, err := s.codec.Decrypt(req.Amount, iv)
		if err != nil {
			return nil, fmt.Errorf("%w: amount of request %s: %v", ErrIntegrity, req.ID, err)
		}
		amount, err := decimal.NewFromString(plaintext)
		if err != nil {
			return nil, fmt.Errorf("%w: amount of request %s is not a decimal", ErrIntegrity, req.ID)
		}

		delta := amount
		if kind == models.RequestKindWithdraw {
			delta = amount.Neg()
		}

		if _, err := s.ledger.updateBalance(tx, owner, delta); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, table), status, req.ID); err != nil {
		return nil, fmt.Errorf("failed to update %s status: %w", kind, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	req.Status = status
	return req, nil
}

// Requests lists a user's own deposit or withdrawal requests, newest
// first, with amounts decrypted.
func (s *RequestService) Requests(kind models.RequestKind, user *models.User) ([]RequestSummary, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, amount, cheque_number, status, created_at FROM %s
		WHERE user_id = $1 ORDER BY created_at DESC
	`, table), user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s requests: %w", kind, err)
	}
	defer rows.Close()

	iv, err := decodeIV(user.IV)
	if err != nil {
		return nil, err
	}

	summaries := []RequestSummary{}
	for rows.Next() {
		var summary RequestSummary
		var encrypted string
		if err := rows.Scan(&summary.ID, &encrypted, &summary.ChequeNumber, &summary.Status, &summary.CreatedAt); err != nil {
			return nil, err
		}
		if summary.Amount, err = s.decryptAmount(encrypted, iv, summary.ID); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// FindByCheque loads one of the user's requests by reference code.
func (s *RequestService) FindByCheque(kind models.RequestKind, user *models.User, chequeNumber string) (*RequestSummary, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var summary RequestSummary
	var encrypted string
	err = s.db.QueryRow(fmt.Sprintf(`
		SELECT id, amount, cheque_number, status, created_at FROM %s
		WHERE cheque_number = $1 AND user_id = $2
	`, table), chequeNumber, user.ID).Scan(&summary.ID, &encrypted, &summary.ChequeNumber, &summary.Status, &summary.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cheque %s", ErrNotFound, chequeNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cheque %s: %w", chequeNumber, err)
	}

	iv, err := decodeIV(user.IV)
	if err != nil {
		return nil, err
	}
	if summary.Amount, err = s.decryptAmount(encrypted, iv, summary.ID); err != nil {
		return nil, err
	}

	return &summary, nil
}

// PendingDeposits lists all pending deposits for admin review.
func (s *RequestService) PendingDeposits() ([]PendingDeposit, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.amount, d.cheque_number, d.status, d.created_at, u.username, u.iv
		FROM deposits d JOIN users u ON u.id = d.user_id
		WHERE d.status = 'pending' ORDER BY d.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deposits: %w", err)
	}
	defer rows.Close()

	pending := []PendingDeposit{}
	for rows.Next() {
		var item PendingDeposit
		var encrypted, encodedIV string
		if err := rows.Scan(&item.ID, &encrypted, &item.ChequeNumber, &item.Status, &item.CreatedAt, &item.Username, &encodedIV); err != nil {
			return nil, err
		}
		iv, err := decodeIV(encodedIV)
		if err != nil {
			return nil, err
		}
		if item.Amount, err = s.decryptAmount(encrypted, iv, item.ID); err != nil {
			return nil, err
		}
		pending = append(pending, item)
	}

	return pending, rows.Err()
}

// PendingWithdrawals lists all pending withdrawals with the owner's
// current balance, for admin review.
func (s *RequestService) PendingWithdrawals() ([]PendingWithdrawal, error) {
	rows, err := s.db.Query(`
		SELECT w.id, w.amount, w.cheque_number, w.status, w.created_at, u.username, u.iv, u.balance
		FROM withdraws w JOIN users u ON u.id = w.user_id
		WHERE w.status = 'pending' ORDER BY w.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	defer rows.Close()

	pending := []PendingWithdrawal{}
	for rows.Next() {
		var item PendingWithdrawal
		var encrypted, encodedIV, encryptedBalance string
		if err := rows.Scan(&item.ID, &encrypted, &item.ChequeNumber, &item.Status, &item.CreatedAt, &item.Username, &encodedIV, &encryptedBalance); err != nil {
			return nil, err
		}
		iv, err := decodeIV(encodedIV)
		if err != nil {
			return nil, err
		}
		if item.Amount, err = s.decryptAmount(encrypted, iv, item.ID); err != nil {
			return nil, err
		}
		if item.UserBalance, err = s.decryptAmount(encryptedBalance, iv, item.ID); err != nil {
			return nil, err
		}
		item.HasSufficientFunds = item.UserBalance.GreaterThanOrEqual(item.Amount)
		pending = append(pending, item)
	}

	return pending, rows.Err()
}

func (s *RequestService) decryptAmount(encrypted string, iv []byte, recordID string) (decimal.Decimal, error) {
	plaintext, err := s.codec.Decrypt(encrypted, iv)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount of record %s: %v", ErrIntegrity, recordID, err)
	}
	amount, err := decimal.NewFromString(plaintext)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount of record %s is not a decimal", ErrIntegrity, recordID)
	}
	return amount, nil
}

func tableFor(kind models.RequestKind) (string, error) {
	switch kind {
	case models.RequestKindDeposit:
		return "deposits", nil
	case models.RequestKindWithdraw:
		return "withdraws", nil
	default:
		return "", fmt.Errorf("%w: unknown request kind %q", ErrValidation, kind)
	}
}

func kindTag(kind models.RequestKind) string {
	if kind == models.RequestKindWithdraw {
		return "WITHDRAW"
	}
	return "DEPOSIT"
}

func statusTag(status models.RequestStatus) string {
	if status == models.RequestStatusApproved {
		return "APPROVED"
	}
	return "REJECTED"
}
