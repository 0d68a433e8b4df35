package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/securebank/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockDepositQuery  = `SELECT id, user_id, amount, cheque_number, status, created_at FROM deposits WHERE id = \$1 FOR UPDATE`
	lockWithdrawQuery = `SELECT id, user_id, amount, cheque_number, status, created_at FROM withdraws WHERE id = \$1 FOR UPDATE`
	setDepositStatus  = `UPDATE deposits SET status = \$1 WHERE id = \$2`
	setWithdrawStatus = `UPDATE withdraws SET status = \$1 WHERE id = \$2`
)

var requestColumns = []string{"id", "user_id", "amount", "cheque_number", "status", "created_at"}

func TestRequestService_CreateDeposit(t *testing.T) {
	codec := newTestCodec(t)

	t.Run("stores a pending request with encrypted amount", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectExec("INSERT INTO deposits").
			WithArgs(sqlmock.AnyArg(), "user-a",
				mustEncrypt(t, codec, "25.00", testIVAlice),
				sqlmock.AnyArg(), "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req, err := service.CreateDeposit(alice, decimal.RequireFromString("25.00"))
		assert.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, models.RequestStatusPending, req.Status)
		assert.Regexp(t, `^DEP\d{14}[A-Z0-9]{6}$`, req.ChequeNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		_, err = service.CreateDeposit(alice, decimal.Zero)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("duplicate reference code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectExec("INSERT INTO deposits").
			WillReturnError(&pq.Error{Code: "23505"})

		_, err = service.CreateDeposit(alice, decimal.RequireFromString("25.00"))
		assert.ErrorIs(t, err, ErrIntegrity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRequestService_CreateWithdraw(t *testing.T) {
	codec := newTestCodec(t)

	t.Run("checks balance at request time", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectQuery(getBalanceQuery).WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(alice.ID, alice.Username, alice.IV, alice.Balance, alice.Version))
		mock.ExpectExec("INSERT INTO withdraws").
			WithArgs(sqlmock.AnyArg(), "user-a",
				mustEncrypt(t, codec, "100.00", testIVAlice),
				sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req, err := service.CreateWithdraw(alice, decimal.RequireFromString("100.00"), "", nil)
		assert.NoError(t, err)
		require.NotNil(t, req)
		assert.Regexp(t, `^WDR\d{14}[A-Z0-9]{6}$`, req.ChequeNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance at request time", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "50.00", 1)

		mock.ExpectQuery(getBalanceQuery).WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(alice.ID, alice.Username, alice.IV, alice.Balance, alice.Version))

		_, err = service.CreateWithdraw(alice, decimal.RequireFromString("100.00"), "", nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores payout details when provided", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectQuery(getBalanceQuery).WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(alice.ID, alice.Username, alice.IV, alice.Balance, alice.Version))
		mock.ExpectExec("INSERT INTO withdraws").
			WithArgs(sqlmock.AnyArg(), "user-a",
				mustEncrypt(t, codec, "100.00", testIVAlice),
				sqlmock.AnyArg(), "pending", sqlmock.AnyArg(),
				`{"details":{"iban":"DE00"},"method":"bank_transfer"}`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err = service.CreateWithdraw(alice, decimal.RequireFromString("100.00"),
			"bank_transfer", map[string]string{"iban": "DE00"})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRequestService_SetStatus(t *testing.T) {
	codec := newTestCodec(t)

	pendingDepositRow := func(amount string) *sqlmock.Rows {
		return sqlmock.NewRows(requestColumns).
			AddRow("req-1", "user-a", mustEncrypt(t, codec, amount, testIVAlice),
				"DEP20250103120000ABC123", "pending", time.Now())
	}

	t.Run("approving a deposit credits the balance in the same transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectBegin()
		mock.ExpectQuery(lockDepositQuery).WithArgs("req-1").
			WillReturnRows(pendingDepositRow("25.00"))
		mock.ExpectQuery(lockUserQuery).WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(alice.ID, alice.Username, alice.IV, alice.Balance, alice.Version))
		mock.ExpectExec(updateQuery).
			WithArgs(mustEncrypt(t, codec, "525.00", testIVAlice), "user-a", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(setDepositStatus).
			WithArgs("approved", "req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req, err := service.SetStatus(models.RequestKindDeposit, "req-1", models.RequestStatusApproved)
		assert.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, models.RequestStatusApproved, req.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal requests never transition again", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		mock.ExpectBegin()
		mock.ExpectQuery(lockDepositQuery).WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows(requestColumns).
				AddRow("req-1", "user-a", mustEncrypt(t, codec, "25.00", testIVAlice),
					"DEP20250103120000ABC123", "approved", time.Now()))
		mock.ExpectRollback()

		_, err = service.SetStatus(models.RequestKindDeposit, "req-1", models.RequestStatusApproved)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("approving an uncovered withdrawal leaves it pending", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectBegin()
		mock.ExpectQuery(lockWithdrawQuery).WithArgs("req-2").
			WillReturnRows(sqlmock.NewRows(requestColumns).
				AddRow("req-2", "user-a", mustEncrypt(t, codec, "600.00", testIVAlice),
					"WDR20250103120000ABC123", "pending", time.Now()))
		mock.ExpectQuery(lockUserQuery).WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(alice.ID, alice.Username, alice.IV, alice.Balance, alice.Version))
		mock.ExpectRollback()

		_, err = service.SetStatus(models.RequestKindWithdraw, "req-2", models.RequestStatusApproved)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejecting touches only the status", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		mock.ExpectBegin()
		mock.ExpectQuery(lockWithdrawQuery).WithArgs("req-2").
			WillReturnRows(sqlmock.NewRows(requestColumns).
				AddRow("req-2", "user-a", mustEncrypt(t, codec, "100.00", testIVAlice),
					"WDR20250103120000ABC123", "pending", time.Now()))
		mock.ExpectExec(setWithdrawStatus).
			WithArgs("rejected", "req-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req, err := service.SetStatus(models.RequestKindWithdraw, "req-2", models.RequestStatusRejected)
		assert.NoError(t, err)
		assert.Equal(t, models.RequestStatusRejected, req.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown request", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		mock.ExpectBegin()
		mock.ExpectQuery(lockDepositQuery).WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(requestColumns))
		mock.ExpectRollback()

		_, err = service.SetStatus(models.RequestKindDeposit, "missing", models.RequestStatusApproved)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only approved and rejected are valid targets", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		_, err = service.SetStatus(models.RequestKindDeposit, "req-1", models.RequestStatusPending)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestRequestService_Listings(t *testing.T) {
	codec := newTestCodec(t)

	t.Run("own requests with decrypted amounts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectQuery(`SELECT id, amount, cheque_number, status, created_at FROM deposits`).
			WithArgs("user-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "status", "created_at"}).
				AddRow("req-1", mustEncrypt(t, codec, "25.00", testIVAlice), "DEP1", "pending", time.Now()).
				AddRow("req-2", mustEncrypt(t, codec, "75.50", testIVAlice), "DEP2", "approved", time.Now()))

		summaries, err := service.Requests(models.RequestKindDeposit, alice)
		assert.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.True(t, summaries[0].Amount.Equal(decimal.RequireFromString("25.00")))
		assert.True(t, summaries[1].Amount.Equal(decimal.RequireFromString("75.50")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending withdrawals annotate funds coverage", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		columns := []string{"id", "amount", "cheque_number", "status", "created_at", "username", "iv", "balance"}
		mock.ExpectQuery(`SELECT w.id, w.amount, w.cheque_number, w.status, w.created_at, u.username, u.iv, u.balance`).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("req-1", mustEncrypt(t, codec, "100.00", testIVAlice), "WDR1", "pending", time.Now(),
					"alice", encodeIV(testIVAlice), mustEncrypt(t, codec, "500.00", testIVAlice)).
				AddRow("req-2", mustEncrypt(t, codec, "900.00", testIVBob), "WDR2", "pending", time.Now(),
					"bob", encodeIV(testIVBob), mustEncrypt(t, codec, "200.00", testIVBob)))

		pending, err := service.PendingWithdrawals()
		assert.NoError(t, err)
		require.Len(t, pending, 2)
		assert.True(t, pending[0].HasSufficientFunds)
		assert.False(t, pending[1].HasSufficientFunds)
		assert.True(t, pending[1].UserBalance.Equal(decimal.RequireFromString("200.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find by reference code", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		service := NewRequestService(db, codec, NewLedgerService(db, codec))

		alice := testUser(t, codec, "user-a", "alice", testIVAlice, "500.00", 1)

		mock.ExpectQuery(`SELECT id, amount, cheque_number, status, created_at FROM deposits`).
			WithArgs("DEP1", "user-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "cheque_number", "status", "created_at"}).
				AddRow("req-1", mustEncrypt(t, codec, "25.00", testIVAlice), "DEP1", "pending", time.Now()))

		summary, err := service.FindByCheque(models.RequestKindDeposit, alice, "DEP1")
		assert.NoError(t, err)
		require.NotNil(t, summary)
		assert.True(t, summary.Amount.Equal(decimal.RequireFromString("25.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
