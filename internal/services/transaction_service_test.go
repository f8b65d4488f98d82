package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeinvest/backend/internal/config"
	"github.com/primeinvest/backend/internal/directory"
	"github.com/primeinvest/backend/internal/models"
)

var transactionTestColumns = []string{
	"id", "direction", "subject_id", "subject_name", "subject_email",
	"requested_amount", "fee_amount", "net_amount", "payout_channel", "payout_key",
	"holder_name", "holder_document", "reference_code", "gateway", "status",
	"notes", "created_at", "processed_at",
}

func testApprovalConfig() *config.ApprovalConfig {
	return &config.ApprovalConfig{
		AutoApprovalEnabled:        false,
		WindowStart:                "08:00",
		WindowEnd:                  "18:00",
		AllowedDays:                []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		DailyBatchLimit:            3,
		MinimumWithdrawalAmount:    3700,
		FeePercentage:              9.0,
		CryptoDepositFeePercentage: 5.0,
		SchedulerLockTTL:           2 * time.Minute,
		PayoutQueue:                "payout_queue",
		PolicyCacheTTL:             5 * time.Minute,
	}
}

func newTestTransactionService(t *testing.T) (*TransactionService, sqlmock.Sqlmock, *MockDirectory) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := testApprovalConfig()
	dir := &MockDirectory{}
	policies := NewPolicyService(db, nil, cfg)
	service := NewTransactionService(db, policies, dir, cfg)
	return service, mock, dir
}

func expectPolicyFetch(mock sqlmock.Sqlmock, minWithdrawal int64, feePct float64) {
	mock.ExpectQuery(`SELECT auto_approval_enabled`).
		WillReturnRows(sqlmock.NewRows([]string{
			"auto_approval_enabled", "window_start", "window_end", "allowed_days",
			"daily_approval_batch_limit", "minimum_withdrawal_amount", "fee_percentage", "updated_at",
		}).AddRow(true, "08:00", "18:00", "{monday,tuesday,wednesday,thursday,friday}",
			3, minWithdrawal, feePct, time.Now()))
}

func withdrawalParams() CreateTransactionParams {
	return CreateTransactionParams{
		Direction:       models.DirectionWithdrawal,
		SubjectID:       "inv-001",
		RequestedAmount: 50000,
		PayoutChannel:   "pix",
		PayoutKey:       "maria@example.com",
		HolderName:      "Maria Souza",
		HolderDocument:  "123.456.789-00",
		Gateway:         "primepag",
	}
}

func TestTransactionService_Create(t *testing.T) {
	t.Run("successful withdrawal", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(&directory.Identity{Name: "Maria Souza", Email: "maria@example.com"}, nil)

		mock.ExpectExec(`INSERT INTO transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := service.Create(context.Background(), withdrawalParams())
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, tx.Status)
		assert.Equal(t, int64(4500), tx.FeeAmount)
		assert.Equal(t, int64(45500), tx.NetAmount)
		assert.Equal(t, "Maria Souza", tx.SubjectName)
		assert.Regexp(t, `^SAQ-[0-9A-Z]{8}$`, tx.ReferenceCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pix deposit is free", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(&directory.Identity{Name: "Maria Souza", Email: "maria@example.com"}, nil)
		mock.ExpectExec(`INSERT INTO transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		params := withdrawalParams()
		params.Direction = models.DirectionDeposit
		params.RequestedAmount = 10000

		tx, err := service.Create(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, int64(0), tx.FeeAmount)
		assert.Equal(t, int64(10000), tx.NetAmount)
		assert.Regexp(t, `^DEP-[0-9A-Z]{8}$`, tx.ReferenceCode)
	})

	t.Run("crypto deposit charges the crypto fee", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(&directory.Identity{Name: "Maria Souza", Email: "maria@example.com"}, nil)
		mock.ExpectExec(`INSERT INTO transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		params := withdrawalParams()
		params.Direction = models.DirectionDeposit
		params.PayoutChannel = "crypto"
		params.RequestedAmount = 10000

		tx, err := service.Create(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, int64(500), tx.FeeAmount)
	})

	t.Run("invalid direction fails validation without touching the store", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)

		params := withdrawalParams()
		params.Direction = "transfer"

		_, err := service.Create(context.Background(), params)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "Direction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal below the minimum is rejected", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)

		params := withdrawalParams()
		params.RequestedAmount = 1000

		_, err := service.Create(context.Background(), params)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "requestedAmount")
	})

	t.Run("unknown subject is a validation error", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(nil, directory.ErrUnknownSubject)

		_, err := service.Create(context.Background(), withdrawalParams())
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "subjectId")
	})

	t.Run("reference code collision is retried", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(&directory.Identity{Name: "Maria Souza", Email: "maria@example.com"}, nil)

		mock.ExpectExec(`INSERT INTO transactions`).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectExec(`INSERT INTO transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := service.Create(context.Background(), withdrawalParams())
		require.NoError(t, err)
		assert.NotEmpty(t, tx.ReferenceCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("persistent collisions give up with a conflict", func(t *testing.T) {
		service, mock, dir := newTestTransactionService(t)

		expectPolicyFetch(mock, 3700, 9.0)
		dir.On("Resolve", anyCtx, "inv-001").
			Return(&directory.Identity{Name: "Maria Souza", Email: "maria@example.com"}, nil)

		for i := 0; i < maxReferenceAttempts; i++ {
			mock.ExpectExec(`INSERT INTO transactions`).
				WillReturnError(&pq.Error{Code: "23505"})
		}

		_, err := service.Create(context.Background(), withdrawalParams())
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestTransactionService_Get(t *testing.T) {
	service, mock, _ := newTestTransactionService(t)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM transactions\s+WHERE id = \$1`).
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionTestColumns).
				AddRow("tx-1", "withdrawal", "inv-001", "Maria Souza", "maria@example.com",
					50000, 4500, 45500, "pix", "maria@example.com",
					"Maria Souza", "123.456.789-00", "SAQ-AAAA1111", "primepag", "pending",
					"", time.Now(), nil))

		tx, err := service.Get(context.Background(), "tx-1")
		require.NoError(t, err)
		assert.Equal(t, "SAQ-AAAA1111", tx.ReferenceCode)
		assert.Nil(t, tx.ProcessedAt)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM transactions\s+WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransactionService_List(t *testing.T) {
	service, mock, _ := newTestTransactionService(t)

	t.Run("pending withdrawals come back oldest first", func(t *testing.T) {
		status := models.StatusPending
		direction := models.DirectionWithdrawal

		older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`(?s)SELECT .* FROM transactions WHERE status = \$1 AND direction = \$2 ORDER BY created_at ASC`).
			WithArgs("pending", "withdrawal").
			WillReturnRows(sqlmock.NewRows(transactionTestColumns).
				AddRow("tx-old", "withdrawal", "inv-001", "Maria Souza", "maria@example.com",
					50000, 4500, 45500, "pix", "k1", "Maria Souza", "doc", "SAQ-AAAA1111", "primepag", "pending",
					"", older, nil).
				AddRow("tx-new", "withdrawal", "inv-002", "Joao Lima", "joao@example.com",
					8000, 720, 7280, "pix", "k2", "Joao Lima", "doc", "SAQ-BBBB2222", "primepag", "pending",
					"", newer, nil))

		txs, err := service.List(context.Background(), ListFilter{Status: &status, Direction: &direction})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, "tx-old", txs[0].ID)
		assert.Equal(t, "tx-new", txs[1].ID)
	})

	t.Run("search matches name, email, reference and holder", func(t *testing.T) {
		mock.ExpectQuery(`(?s)SELECT .* FROM transactions WHERE \(subject_name ILIKE \$1 OR subject_email ILIKE \$1 OR reference_code ILIKE \$1 OR holder_name ILIKE \$1\) ORDER BY created_at ASC`).
			WithArgs("%maria%").
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		txs, err := service.List(context.Background(), ListFilter{Search: "maria"})
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("no filter lists everything", func(t *testing.T) {
		mock.ExpectQuery(`(?s)SELECT .* FROM transactions ORDER BY created_at ASC`).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		_, err := service.List(context.Background(), ListFilter{})
		assert.NoError(t, err)
	})
}

func TestTransactionService_Transition(t *testing.T) {
	t.Run("pending to approved stamps processed_at", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)
		processed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`(?s)UPDATE transactions.*WHERE id = \$5 AND status = ANY\(\$6\).*RETURNING`).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns).
				AddRow("tx-1", "withdrawal", "inv-001", "Maria Souza", "maria@example.com",
					50000, 4500, 45500, "pix", "k1", "Maria Souza", "doc", "SAQ-AAAA1111", "primepag", "approved",
					"approved by adm-1", time.Now(), processed))

		tx, err := service.Transition(context.Background(), "tx-1", models.StatusApproved, "approved by adm-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, tx.Status)
		require.NotNil(t, tx.ProcessedAt)
		assert.Equal(t, processed, *tx.ProcessedAt)
	})

	t.Run("terminal record yields ErrInvalidState and stays untouched", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)

		mock.ExpectQuery(`(?s)UPDATE transactions.*RETURNING`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT status FROM transactions WHERE id = \$1`).
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("rejected"))

		_, err := service.Transition(context.Background(), "tx-1", models.StatusApproved, "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("unknown id yields ErrNotFound", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)

		mock.ExpectQuery(`(?s)UPDATE transactions.*RETURNING`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT status FROM transactions WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Transition(context.Background(), "missing", models.StatusApproved, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("processing is only reachable from pending", func(t *testing.T) {
		service, mock, _ := newTestTransactionService(t)

		mock.ExpectQuery(`(?s)UPDATE transactions.*RETURNING`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT status FROM transactions WHERE id = \$1`).
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))

		_, err := service.Transition(context.Background(), "tx-1", models.StatusProcessing, "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("pending is never a target", func(t *testing.T) {
		service, _, _ := newTestTransactionService(t)

		_, err := service.Transition(context.Background(), "tx-1", models.StatusPending, "")
		_, ok := AsValidationError(err)
		assert.True(t, ok)
	})
}

func TestTransactionService_RecordGatewayFailure(t *testing.T) {
	service, mock, _ := newTestTransactionService(t)

	t.Run("appends to notes without a status change", func(t *testing.T) {
		mock.ExpectExec(`(?s)UPDATE transactions\s+SET notes = CASE`).
			WithArgs("gateway: pix key rejected", "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.RecordGatewayFailure(context.Background(), "tx-1", "gateway: pix key rejected")
		assert.NoError(t, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		mock.ExpectExec(`(?s)UPDATE transactions\s+SET notes = CASE`).
			WithArgs("gateway: timeout", "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.RecordGatewayFailure(context.Background(), "missing", "gateway: timeout")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransactionService_Summary(t *testing.T) {
	service, mock, _ := newTestTransactionService(t)

	mock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(net_amount\), 0\)`).
		WithArgs("withdrawal").
		WillReturnRows(sqlmock.NewRows([]string{"sum", "pending", "approved"}).AddRow(128000, 4, 9))

	summary, err := service.Summary(context.Background(), models.DirectionWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, int64(128000), summary.TotalNetAmount)
	assert.Equal(t, 4, summary.PendingCount)
	assert.Equal(t, 9, summary.ApprovedCount)
}

func TestTransactionService_CreatePolicyError(t *testing.T) {
	service, mock, _ := newTestTransactionService(t)

	mock.ExpectQuery(`SELECT auto_approval_enabled`).
		WillReturnError(errors.New("connection refused"))

	_, err := service.Create(context.Background(), withdrawalParams())
	assert.Error(t, err)
}
