package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/primeinvest/backend/internal/config"
	"github.com/primeinvest/backend/internal/directory"
	"github.com/primeinvest/backend/internal/models"
)

const maxReferenceAttempts = 3

// TransactionService holds every money-movement request and owns the guarded
// status transitions. All writes go through conditional UPDATEs checked via
// RowsAffected, so concurrent approvals and rejections of the same record
// cannot both succeed.
type TransactionService struct {
	db        *sql.DB
	policies  *PolicyService
	directory directory.Directory
	validator *ValidationHelper
	cfg       *config.ApprovalConfig
	now       func() time.Time
}

func NewTransactionService(db *sql.DB, policies *PolicyService, dir directory.Directory, cfg *config.ApprovalConfig) *TransactionService {
	return &TransactionService{
		db:        db,
		policies:  policies,
		directory: dir,
		validator: NewValidationHelper(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateTransactionParams is the request to open a deposit or withdrawal.
// Amounts are in cents.
type CreateTransactionParams struct {
	Direction       models.Direction `json:"direction" validate:"required,oneof=deposit withdrawal"`
	SubjectID       string           `json:"subjectId" validate:"required"`
	RequestedAmount int64            `json:"requestedAmount" validate:"required,gt=0"`
	PayoutChannel   string           `json:"payoutChannel" validate:"required,oneof=pix crypto"`
	PayoutKey       string           `json:"payoutKey" validate:"required"`
	HolderName      string           `json:"holderName" validate:"required"`
	HolderDocument  string           `json:"holderDocument" validate:"required"`
	Gateway         string           `json:"gateway" validate:"required"`
}

// ListFilter is a conjunction of optional predicates. Search matches
// case-insensitively against subject name, subject email, reference code and
// holder name.
type ListFilter struct {
	Search        string
	Status        *models.Status
	Direction     *models.Direction
	PayoutChannel string
}

// DirectionSummary mirrors the console's stat cards for one direction.
type DirectionSummary struct {
	Direction      models.Direction `json:"direction"`
	TotalNetAmount int64            `json:"totalNetAmount"`
	PendingCount   int              `json:"pendingCount"`
	ApprovedCount  int              `json:"approvedCount"`
}

const transactionColumns = `id, direction, subject_id, subject_name, subject_email,
		requested_amount, fee_amount, net_amount, payout_channel, payout_key,
		holder_name, holder_document, reference_code, gateway, status,
		COALESCE(notes, ''), created_at, processed_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*models.Transaction, error) {
	var tx models.Transaction
	var directionStr, statusStr string
	var processedAt sql.NullTime

	if err := s.Scan(
		&tx.ID, &directionStr, &tx.SubjectID, &tx.SubjectName, &tx.SubjectEmail,
		&tx.RequestedAmount, &tx.FeeAmount, &tx.NetAmount, &tx.PayoutChannel, &tx.PayoutKey,
		&tx.HolderName, &tx.HolderDocument, &tx.ReferenceCode, &tx.Gateway, &statusStr,
		&tx.Notes, &tx.CreatedAt, &processedAt,
	); err != nil {
		return nil, err
	}

	tx.Direction = models.Direction(directionStr)
	tx.Status = models.Status(statusStr)
	if processedAt.Valid {
		t := processedAt.Time
		tx.ProcessedAt = &t
	}
	return &tx, nil
}

// Create validates the request, fixes the fee and net amounts via the current
// policy, allocates a unique reference code and inserts the record as pending.
func (s *TransactionService) Create(ctx context.Context, params CreateTransactionParams) (*models.Transaction, error) {
	if err := s.validator.ValidateStruct(&params); err != nil {
		return nil, err
	}

	policy, err := s.policies.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading approval policy: %w", err)
	}

	if params.Direction == models.DirectionWithdrawal && params.RequestedAmount < policy.MinimumWithdrawalAmount {
		ve := newValidationError()
		ve.add("requestedAmount", fmt.Sprintf("below the minimum withdrawal of %d cents", policy.MinimumWithdrawalAmount))
		return nil, ve
	}

	identity, err := s.directory.Resolve(ctx, params.SubjectID)
	if err == directory.ErrUnknownSubject {
		ve := newValidationError()
		ve.add("subjectId", "unknown subject")
		return nil, ve
	}
	if err != nil {
		return nil, err
	}

	feePercentage := 0.0
	switch {
	case params.Direction == models.DirectionWithdrawal:
		feePercentage = policy.FeePercentage
	case params.PayoutChannel == "crypto":
		feePercentage = s.cfg.CryptoDepositFeePercentage
	}
	fee := ComputeFee(params.RequestedAmount, feePercentage)

	tx := &models.Transaction{
		ID:              uuid.NewString(),
		Direction:       params.Direction,
		SubjectID:       params.SubjectID,
		SubjectName:     identity.Name,
		SubjectEmail:    identity.Email,
		RequestedAmount: params.RequestedAmount,
		FeeAmount:       fee,
		NetAmount:       NetAmount(params.RequestedAmount, fee),
		PayoutChannel:   params.PayoutChannel,
		PayoutKey:       params.PayoutKey,
		HolderName:      params.HolderName,
		HolderDocument:  params.HolderDocument,
		Gateway:         params.Gateway,
		Status:          models.StatusPending,
		CreatedAt:       s.now(),
	}

	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		tx.ReferenceCode = generateReferenceCode(params.Direction)

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO transactions
			(id, direction, subject_id, subject_name, subject_email, requested_amount, fee_amount, net_amount,
			 payout_channel, payout_key, holder_name, holder_document, reference_code, gateway, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, tx.ID, string(tx.Direction), tx.SubjectID, tx.SubjectName, tx.SubjectEmail,
			tx.RequestedAmount, tx.FeeAmount, tx.NetAmount, tx.PayoutChannel, tx.PayoutKey,
			tx.HolderName, tx.HolderDocument, tx.ReferenceCode, tx.Gateway, string(tx.Status), tx.CreatedAt)

		if err == nil {
			log.Printf("[TRANSACTION] Created %s %s (%s, %d cents, fee %d)",
				tx.Direction, tx.ID, tx.ReferenceCode, tx.RequestedAmount, tx.FeeAmount)
			return tx, nil
		}

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			log.Printf("[TRANSACTION] Reference code collision on %s (attempt %d), regenerating", tx.ReferenceCode, attempt)
			continue
		}
		return nil, fmt.Errorf("storing transaction: %w", err)
	}

	return nil, fmt.Errorf("%w: could not allocate a unique reference code", ErrConflict)
}

// Get fetches a single record by id.
func (s *TransactionService) Get(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching transaction: %w", err)
	}
	return tx, nil
}

// List returns the records matching the filter, oldest first. The ordering is
// the FIFO tie-break the scheduler relies on.
func (s *TransactionService) List(ctx context.Context, filter ListFilter) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`

	var conditions []string
	var args []any
	argIndex := 1

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(subject_name ILIKE $%d OR subject_email ILIKE $%d OR reference_code ILIKE $%d OR holder_name ILIKE $%d)",
			argIndex, argIndex, argIndex, argIndex))
		args = append(args, "%"+filter.Search+"%")
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(*filter.Status))
		argIndex++
	}

	if filter.Direction != nil {
		conditions = append(conditions, fmt.Sprintf("direction = $%d", argIndex))
		args = append(args, string(*filter.Direction))
		argIndex++
	}

	if filter.PayoutChannel != "" {
		conditions = append(conditions, fmt.Sprintf("payout_channel = $%d", argIndex))
		args = append(args, filter.PayoutChannel)
		argIndex++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return txs, nil
}

// Transition moves a record to target if and only if its current status still
// permits it. The guard is a conditional UPDATE, so when several callers race
// on the same id at most one succeeds; the others get ErrInvalidState (or
// ErrNotFound for an unknown id) and the record is untouched.
func (s *TransactionService) Transition(ctx context.Context, id string, target models.Status, note string) (*models.Transaction, error) {
	if !target.Valid() || target == models.StatusPending {
		ve := newValidationError()
		ve.add("status", fmt.Sprintf("%q is not a reachable target status", target))
		return nil, ve
	}

	allowed := []string{string(models.StatusPending), string(models.StatusProcessing)}
	if target == models.StatusProcessing {
		allowed = []string{string(models.StatusPending)}
	}

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		UPDATE transactions
		SET status = $1,
		    processed_at = CASE WHEN $2 THEN $3 ELSE processed_at END,
		    notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END
		WHERE id = $5 AND status = ANY($6)
		RETURNING `+transactionColumns,
		string(target), target.Terminal(), s.now(), note, id, pq.Array(allowed)))

	if err == nil {
		log.Printf("[TRANSACTION] %s -> %s (%s)", id, target, tx.ReferenceCode)
		return tx, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("transitioning transaction: %w", err)
	}

	// Zero rows: either the id is unknown or the guard rejected the move.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking transaction status: %w", err)
	}
	return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, current)
}

// RecordGatewayFailure appends a gateway-reported error to the record's notes
// without touching its status, so the request stays visible for a human or a
// retry job to resolve.
func (s *TransactionService) RecordGatewayFailure(ctx context.Context, id, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET notes = CASE WHEN COALESCE(notes, '') = '' THEN $1 ELSE notes || '; ' || $1 END
		WHERE id = $2
	`, message, id)
	if err != nil {
		return fmt.Errorf("recording gateway failure: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	log.Printf("[TRANSACTION] Gateway failure recorded on %s: %s", id, message)
	return nil
}

// Summary returns the stat-card totals for one direction.
func (s *TransactionService) Summary(ctx context.Context, direction models.Direction) (*DirectionSummary, error) {
	summary := &DirectionSummary{Direction: direction}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_amount), 0),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'approved')
		FROM transactions
		WHERE direction = $1
	`, string(direction)).Scan(&summary.TotalNetAmount, &summary.PendingCount, &summary.ApprovedCount)
	if err != nil {
		return nil, fmt.Errorf("summarizing transactions: %w", err)
	}
	return summary, nil
}

const referenceCharset = "0123456789ABCDEFGHJKMNPQRSTUVWXYZ"

// generateReferenceCode builds the human-readable code shown in the console,
// e.g. "SAQ-7K3MF2Q9". Uniqueness is enforced by the store's unique index.
func generateReferenceCode(direction models.Direction) string {
	prefix := "DEP"
	if direction == models.DirectionWithdrawal {
		prefix = "SAQ"
	}

	suffix := make([]byte, 8)
	charsetLen := big.NewInt(int64(len(referenceCharset)))
	for i := range suffix {
		n, _ := rand.Int(rand.Reader, charsetLen)
		suffix[i] = referenceCharset[n.Int64()]
	}
	return prefix + "-" + string(suffix)
}
