package services

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/securebank/backend/internal/crypto"
	"github.com/securebank/backend/internal/models"
	"github.com/shopspring/decimal"
)

// HistoryService merges transfers, deposits and withdrawals into one
// signed account history. It never writes.
type HistoryService struct {
	db    *sql.DB
	codec *crypto.Codec
}

func NewHistoryService(db *sql.DB, codec *crypto.Codec) *HistoryService {
	return &HistoryService{db: db, codec: codec}
}

// HistoryFilter narrows an export to one record stream and a date
// window. Zero values leave the dimension unfiltered; To is inclusive.
type HistoryFilter struct {
	Kind models.EntryKind
	From time.Time
	To   time.Time
}

func (f HistoryFilter) matches(entry models.Entry) bool {
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && entry.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Recent returns the newest limit entries across all four record
// streams: transfers sent, transfers received, approved deposits and
// approved withdrawals. Entries are ordered newest first; entries with
// the same timestamp order by record id so repeated reads agree.
func (s *HistoryService) Recent(user *models.User, limit int) ([]models.Entry, error) {
	entries, err := s.allEntries(user)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Entries returns the merged history narrowed by filter, newest first.
func (s *HistoryService) Entries(user *models.User, filter HistoryFilter) ([]models.Entry, error) {
	entries, err := s.allEntries(user)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, entry := range entries {
		if filter.matches(entry) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// ExportCSV writes the user's filtered history as CSV with a header
// row. Positive amounts carry an explicit "+" prefix.
func (s *HistoryService) ExportCSV(user *models.User, filter HistoryFilter, w io.Writer) error {
	entries, err := s.Entries(user, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Type", "Description", "Amount", "Date"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		amount := entry.Amount.StringFixed(2)
		if entry.IsPositive {
			amount = "+" + amount
		}
		row := []string{
			string(entry.Kind),
			entry.Description,
			amount,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportPDF renders the user's filtered history as a printable account
// statement.
func (s *HistoryService) ExportPDF(user *models.User, filter HistoryFilter) ([]byte, error) {
	entries, err := s.Entries(user, filter)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.AddPage()
	width, _ := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetXY(0, 38)
	pdf.CellFormat(width, 24, "Secure Bank", "", 0, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(0, 80)
	pdf.CellFormat(width, 16, "Account Statement", "", 0, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(54, 120, fmt.Sprintf("Account: %s", user.Username))
	pdf.Text(54, 138, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04:05")))
	if !filter.From.IsZero() || !filter.To.IsZero() {
		pdf.Text(54, 156, fmt.Sprintf("Period: %s - %s",
			statementBound(filter.From, "beginning"),
			statementBound(filter.To, "now")))
	}

	colWidths := []float64{120, 110, 190, 84}
	headers := []string{"Date", "Type", "Description", "Amount"}

	pdf.SetXY(54, 180)
	pdf.SetFont("Helvetica", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(colWidths[i], 18, header, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, entry := range entries {
		amount := entry.Amount.StringFixed(2)
		if entry.IsPositive {
			amount = "+" + amount
		}
		pdf.SetX(54)
		pdf.CellFormat(colWidths[0], 16, entry.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidths[1], 16, string(entry.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidths[2], 16, entry.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidths[3], 16, amount, "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(entries) == 0 {
		pdf.SetX(54)
		pdf.CellFormat(width-108, 16, "No transactions in the selected period", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render statement PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func statementBound(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format("2006-01-02")
}

func (s *HistoryService) allEntries(user *models.User) ([]models.Entry, error) {
	iv, err := decodeIV(user.IV)
	if err != nil {
		return nil, err
	}

	entries := []models.Entry{}

	sent, err := s.sentTransfers(user.ID, iv)
	if err != nil {
		return nil, err
	}
	entries = append(entries, sent...)

	received, err := s.receivedTransfers(user.ID)
	if err != nil {
		return nil, err
	}
	entries = append(entries, received...)

	deposits, err := s.approvedRequests(user, iv, models.RequestKindDeposit)
	if err != nil {
		return nil, err
	}
	entries = append(entries, deposits...)

	withdrawals, err := s.approvedRequests(user, iv, models.RequestKindWithdraw)
	if err != nil {
		return nil, err
	}
	entries = append(entries, withdrawals...)

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].RecordID < entries[j].RecordID
	})

	return entries, nil
}

// sentTransfers decrypts outgoing transfers with the sender's own IV
// and negates the amount.
func (s *HistoryService) sentTransfers(userID string, iv []byte) ([]models.Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, amount, encrypted_receiver, created_at FROM transactions WHERE sender_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent transfers: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var id, encAmount, encReceiver string
		var createdAt time.Time
		if err := rows.Scan(&id, &encAmount, &encReceiver, &createdAt); err != nil {
			return nil, err
		}

		amount, err := s.decryptEntryAmount(encAmount, iv, id)
		if err != nil {
			return nil, err
		}
		receiver, err := s.codec.Decrypt(encReceiver, iv)
		if err != nil {
			return nil, fmt.Errorf("%w: receiver of transaction %s: %v", ErrIntegrity, id, err)
		}

		entries = append(entries, models.Entry{
			Kind:        models.EntryKindTransferSent,
			Description: "Transfer to " + receiver,
			Amount:      amount.Neg(),
			Timestamp:   createdAt,
			IsPositive:  false,
			RecordID:    id,
		})
	}

	return entries, rows.Err()
}

// receivedTransfers joins the sender row because incoming transfer
// fields are ciphertext under the sender's IV, not the receiver's.
func (s *HistoryService) receivedTransfers(userID string) ([]models.Entry, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.amount, t.encrypted_sender, t.created_at, u.iv
		FROM transactions t JOIN users u ON u.id = t.sender_id
		WHERE t.receiver_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list received transfers: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var id, encAmount, encSender, senderIV string
		var createdAt time.Time
		if err := rows.Scan(&id, &encAmount, &encSender, &createdAt, &senderIV); err != nil {
			return nil, err
		}

		iv, err := decodeIV(senderIV)
		if err != nil {
			return nil, err
		}
		amount, err := s.decryptEntryAmount(encAmount, iv, id)
		if err != nil {
			return nil, err
		}
		sender, err := s.codec.Decrypt(encSender, iv)
		if err != nil {
			return nil, fmt.Errorf("%w: sender of transaction %s: %v", ErrIntegrity, id, err)
		}

		entries = append(entries, models.Entry{
			Kind:        models.EntryKindTransferReceived,
			Description: "Transfer from " + sender,
			Amount:      amount,
			Timestamp:   createdAt,
			IsPositive:  true,
			RecordID:    id,
		})
	}

	return entries, rows.Err()
}

// approvedRequests folds approved deposits or withdrawals into the
// history. Pending and rejected requests never appear.
func (s *HistoryService) approvedRequests(user *models.User, iv []byte, kind models.RequestKind) ([]models.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, amount, cheque_number, created_at FROM %s
		WHERE user_id = $1 AND status = 'approved'
	`, table), user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved %ss: %w", kind, err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var id, encAmount, chequeNumber string
		var createdAt time.Time
		if err := rows.Scan(&id, &encAmount, &chequeNumber, &createdAt); err != nil {
			return nil, err
		}

		amount, err := s.decryptEntryAmount(encAmount, iv, id)
		if err != nil {
			return nil, err
		}

		entry := models.Entry{
			Timestamp: createdAt,
			RecordID:  id,
		}
		if kind == models.RequestKindDeposit {
			entry.Kind = models.EntryKindDeposit
			entry.Description = "Deposit " + chequeNumber
			entry.Amount = amount
			entry.IsPositive = true
		} else {
			entry.Kind = models.EntryKindWithdrawal
			entry.Description = "Withdrawal " + chequeNumber
			entry.Amount = amount.Neg()
			entry.IsPositive = false
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *HistoryService) decryptEntryAmount(encrypted string, iv []byte, recordID string) (decimal.Decimal, error) {
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
