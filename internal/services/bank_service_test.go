package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const currentUserQuery = `SELECT id, username, iv, balance, is_admin, version FROM users WHERE username = \$1`

func authedRequest(method, target, username string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	return r.WithContext(context.WithValue(r.Context(), "username", username))
}

func TestBankService_ExportTransactions(t *testing.T) {
	codec := newTestCodec(t)

	newService := func(t *testing.T) (*BankService, sqlmock.Sqlmock, func()) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		ledger := NewLedgerService(db, codec)
		service := NewBankService(db, ledger, NewRequestService(db, codec, ledger), NewHistoryService(db, codec))
		return service, mock, func() { db.Close() }
	}

	t.Run("unknown format", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		w := httptest.NewRecorder()
		service.ExportTransactions(w, authedRequest("GET", "/api/bank/transactions/export?format=xml", "bob"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction type", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		w := httptest.NewRecorder()
		service.ExportTransactions(w, authedRequest("GET", "/api/bank/transactions/export?transaction_type=refund", "bob"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed date bound", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		w := httptest.NewRecorder()
		service.ExportTransactions(w, authedRequest("GET", "/api/bank/transactions/export?date_from=03-01-2025", "bob"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pdf statement", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		bob := testUser(t, codec, "user-b", "bob", testIVBob, "1000.00", 1)

		mock.ExpectQuery(currentUserQuery).WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "iv", "balance", "is_admin", "version"}).
				AddRow(bob.ID, bob.Username, bob.IV, bob.Balance, false, bob.Version))
		mock.ExpectQuery(sentQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "encrypted_receiver", "created_at"}))
		mock.ExpectQuery(receivedQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "encrypted_sender", "created_at", "iv"}))
		mock.ExpectQuery(depositsQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "created_at"}))
		mock.ExpectQuery(withdrawQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "created_at"}))

		w := httptest.NewRecorder()
		service.ExportTransactions(w, authedRequest("GET", "/api/bank/transactions/export?format=pdf", "bob"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		body := w.Body.Bytes()
		require.NotEmpty(t, body)
		assert.Equal(t, "%PDF", string(body[:4]))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("csv remains the default", func(t *testing.T) {
		service, mock, closeDB := newService(t)
		defer closeDB()

		bob := testUser(t, codec, "user-b", "bob", testIVBob, "1000.00", 1)

		mock.ExpectQuery(currentUserQuery).WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "iv", "balance", "is_admin", "version"}).
				AddRow(bob.ID, bob.Username, bob.IV, bob.Balance, false, bob.Version))
		mock.ExpectQuery(sentQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "encrypted_receiver", "created_at"}))
		mock.ExpectQuery(receivedQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "encrypted_sender", "created_at", "iv"}))
		mock.ExpectQuery(depositsQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "created_at"}))
		mock.ExpectQuery(withdrawQuery).WithArgs("user-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "created_at"}))

		w := httptest.NewRecorder()
		service.ExportTransactions(w, authedRequest("GET", "/api/bank/transactions/export", "bob"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "Type,Description,Amount,Date")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
