package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/securebank/backend/internal/models"
	"github.com/shopspring/decimal"
)

// BankService is the HTTP surface over the ledger, request and history
// services. Handlers resolve the authenticated account, decode and
// validate the payload, call the core operation and map its error to a
// status code.
type BankService struct {
	db        *sql.DB
	ledger    *LedgerService
	requests  *RequestService
	history   *HistoryService
	cheques   *ChequeService
	validator *ValidationHelper
}

func NewBankService(db *sql.DB, ledger *LedgerService, requests *RequestService, history *HistoryService) *BankService {
	return &BankService{
		db:        db,
		ledger:    ledger,
		requests:  requests,
		history:   history,
		cheques:   NewChequeService(),
		validator: NewValidationHelper(),
	}
}

// TransferRequest represents the transfer payload
type TransferRequest struct {
	Receiver string          `json:"receiver" validate:"required"` // Receiving username
	Amount   decimal.Decimal `json:"amount" validate:"required"`   // Amount to move
}

// AmountRequest represents a deposit request payload
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// WithdrawRequestPayload represents a withdrawal request payload
type WithdrawRequestPayload struct {
	Amount  decimal.Decimal   `json:"amount" validate:"required"`
	Method  string            `json:"method"`  // optional payout method
	Details map[string]string `json:"details"` // optional method details
}

// StatusRequest represents an admin approve/reject payload
type StatusRequest struct {
	Status models.RequestStatus `json:"status" validate:"required,oneof=approved rejected"`
}

// currentUser loads the full account row for the username placed in the
// request context by the auth middleware.
func (s *BankService) currentUser(r *http.Request) (*models.User, error) {
	username, _ := r.Context().Value("username").(string)
	if username == "" {
		return nil, fmt.Errorf("%w: no authenticated user", ErrNotFound)
	}

	var u models.User
	err := s.db.QueryRow(`
		SELECT id, username, iv, balance, is_admin, version FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.IV, &u.Balance, &u.IsAdmin, &u.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}
	return &u, nil
}

// writeServiceError maps core errors to HTTP statuses. Integrity and
// unknown failures surface as an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrConflict):
		SendErrorResponse(w, "The account was modified concurrently, please retry", http.StatusConflict, nil)
	default:
		log.Printf("[BANK] Internal error: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

func (s *BankService) decodePayload(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// GetBalance returns the authenticated account's decrypted balance.
func (s *BankService) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	balance, err := s.ledger.Balance(user)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"username": user.Username,
		"balance":  balance,
	})
}

// Transfer moves money from the authenticated account to another one.
func (s *BankService) Transfer(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req TransferRequest
	if !s.decodePayload(w, r, &req) {
		return
	}

	log.Printf("[BANK] Transfer request: %s -> %s", user.Username, req.Receiver)

	record, err := s.ledger.Transfer(user, req.Receiver, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Transfer successful",
		"transaction_id": record.ID,
	})
}

// CreateDeposit files a pending deposit request.
func (s *BankService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req AmountRequest
	if !s.decodePayload(w, r, &req) {
		return
	}

	created, err := s.requests.CreateDeposit(user, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Deposit request submitted",
		"cheque_number": created.ChequeNumber,
		"status":        created.Status,
	})
}

// CreateWithdraw files a pending withdrawal request.
func (s *BankService) CreateWithdraw(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req WithdrawRequestPayload
	if !s.decodePayload(w, r, &req) {
		return
	}

	created, err := s.requests.CreateWithdraw(user, req.Amount, req.Method, req.Details)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Withdrawal request submitted",
		"cheque_number": created.ChequeNumber,
		"status":        created.Status,
	})
}

// ListDeposits returns the account's own deposit requests.
func (s *BankService) ListDeposits(w http.ResponseWriter, r *http.Request) {
	s.listRequests(w, r, models.RequestKindDeposit)
}

// ListWithdrawals returns the account's own withdrawal requests.
func (s *BankService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	s.listRequests(w, r, models.RequestKindWithdraw)
}

func (s *BankService) listRequests(w http.ResponseWriter, r *http.Request, kind models.RequestKind) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	summaries, err := s.requests.Requests(kind, user)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// DepositChequePDF streams the printable cheque for one of the
// account's own deposit requests.
func (s *BankService) DepositChequePDF(w http.ResponseWriter, r *http.Request) {
	s.chequePDF(w, r, models.RequestKindDeposit)
}

// WithdrawChequePDF streams the printable cheque for one of the
// account's own withdrawal requests.
func (s *BankService) WithdrawChequePDF(w http.ResponseWriter, r *http.Request) {
	s.chequePDF(w, r, models.RequestKindWithdraw)
}

func (s *BankService) chequePDF(w http.ResponseWriter, r *http.Request, kind models.RequestKind) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	chequeNumber := chi.URLParam(r, "chequeNumber")
	summary, err := s.requests.FindByCheque(kind, user, chequeNumber)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var pdf []byte
	if kind == models.RequestKindDeposit {
		pdf, err = s.cheques.DepositChequePDF(user.Username, summary.Amount, summary.ChequeNumber)
	} else {
		pdf, err = s.cheques.WithdrawChequePDF(user.Username, summary.Amount, summary.ChequeNumber)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", summary.ChequeNumber))
	w.Write(pdf)
}

// RecentTransactions returns the merged account history, newest first.
func (s *BankService) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = parsed
	}

	entries, err := s.history.Recent(user, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// ExportTransactions streams the account history as CSV (default) or a
// PDF statement, optionally filtered by entry type and date range.
func (s *BankService) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		SendErrorResponse(w, "format must be csv or pdf", http.StatusBadRequest, nil)
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if format == "pdf" {
		pdf, err := s.history.ExportPDF(user, filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=transactions-%s.pdf", time.Now().Format("20060102")))
		w.Write(pdf)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=transactions-%s.csv", time.Now().Format("20060102")))

	if err := s.history.ExportCSV(user, filter, w); err != nil {
		log.Printf("[BANK] CSV export failed for %s: %v", user.Username, err)
	}
}

// parseHistoryFilter reads the optional transaction_type and
// date_from/date_to query parameters. Dates are inclusive calendar
// days.
func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	var filter HistoryFilter

	switch kind := models.EntryKind(r.URL.Query().Get("transaction_type")); kind {
	case "", models.EntryKindTransferSent, models.EntryKindTransferReceived,
		models.EntryKindDeposit, models.EntryKindWithdrawal:
		filter.Kind = kind
	default:
		return filter, fmt.Errorf("unknown transaction_type %q", kind)
	}

	if raw := r.URL.Query().Get("date_from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, fmt.Errorf("date_from must be YYYY-MM-DD")
		}
		filter.From = from
	}
	if raw := r.URL.Query().Get("date_to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, fmt.Errorf("date_to must be YYYY-MM-DD")
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	return filter, nil
}

// PendingDeposits lists all pending deposits for admin review.
func (s *BankService) PendingDeposits(w http.ResponseWriter, r *http.Request) {
	pending, err := s.requests.PendingDeposits()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// PendingWithdrawals lists all pending withdrawals for admin review.
func (s *BankService) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.requests.PendingWithdrawals()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// UpdateDepositStatus approves or rejects a pending deposit.
func (s *BankService) UpdateDepositStatus(w http.ResponseWriter, r *http.Request) {
	s.updateStatus(w, r, models.RequestKindDeposit)
}

// UpdateWithdrawStatus approves or rejects a pending withdrawal.
func (s *BankService) UpdateWithdrawStatus(w http.ResponseWriter, r *http.Request) {
	s.updateStatus(w, r, models.RequestKindWithdraw)
}

func (s *BankService) updateStatus(w http.ResponseWriter, r *http.Request, kind models.RequestKind) {
	requestID := chi.URLParam(r, "requestID")

	var req StatusRequest
	if !s.decodePayload(w, r, &req) {
		return
	}

	log.Printf("[BANK] %s request %s -> %s", kind, requestID, req.Status)

	updated, err := s.requests.SetStatus(kind, requestID, req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Request %s", updated.Status),
		"id":      updated.ID,
		"status":  updated.Status,
	})
}
