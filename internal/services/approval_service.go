package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/primeinvest/backend/internal/config"
	"github.com/primeinvest/backend/internal/gateway"
	"github.com/primeinvest/backend/internal/models"
)

const autoApprovalLockKey = "auto_approval:lock"

// ApprovalService drives withdrawal approvals: the manual approve/reject
// endpoints and the scheduled auto-approval batches. Concurrency control for
// the batch run is a Redis lock shared across instances; individual records
// are protected by the store's guarded transitions either way.
type ApprovalService struct {
	redis        *redis.Client
	transactions *TransactionService
	policies     *PolicyService
	gateway      gateway.PaymentGateway
	lockTTL      time.Duration

	// Fallback for single-instance deployments without Redis.
	mu sync.Mutex
}

func NewApprovalService(redisClient *redis.Client, txs *TransactionService, policies *PolicyService, gw gateway.PaymentGateway, cfg *config.ApprovalConfig) *ApprovalService {
	return &ApprovalService{
		redis:        redisClient,
		transactions: txs,
		policies:     policies,
		gateway:      gw,
		lockTTL:      cfg.SchedulerLockTTL,
	}
}

// Approve moves a transaction to approved and hands approved withdrawals to
// the payment gateway. A gateway failure does not undo the approval; it is
// recorded on the transaction for follow-up.
func (s *ApprovalService) Approve(ctx context.Context, id, approverRef string) (*models.Transaction, error) {
	note := ""
	if approverRef != "" {
		note = "approved by " + approverRef
	}

	tx, err := s.transactions.Transition(ctx, id, models.StatusApproved, note)
	if err != nil {
		return nil, err
	}

	s.dispatchPayout(ctx, tx)
	return tx, nil
}

// Reject moves a transaction to rejected with a mandatory reason.
func (s *ApprovalService) Reject(ctx context.Context, id, reason string) (*models.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		ve := newValidationError()
		ve.add("reason", "a rejection reason is required")
		return nil, ve
	}
	return s.transactions.Transition(ctx, id, models.StatusRejected, reason)
}

// Cancel voids a request that has not reached a terminal state.
func (s *ApprovalService) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	return s.transactions.Transition(ctx, id, models.StatusCancelled, "")
}

// RunAutoApproval executes one scheduler tick at the given time. Inside the
// policy window it approves every pending withdrawal; outside the window it
// trickles at most DailyApprovalBatchLimit of them, oldest first. Records that
// change state under us are skipped, not failed. Returns the number approved.
func (s *ApprovalService) RunAutoApproval(ctx context.Context, now time.Time) (int, error) {
	policy, err := s.policies.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading approval policy: %w", err)
	}

	if !policy.AutoApprovalEnabled {
		return 0, nil
	}
	if !policy.DayAllowed(now) {
		log.Printf("[APPROVAL] %s is not an allowed day, skipping run", strings.ToLower(now.Weekday().String()))
		return 0, nil
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	status := models.StatusPending
	direction := models.DirectionWithdrawal
	pending, err := s.transactions.List(ctx, ListFilter{Status: &status, Direction: &direction})
	if err != nil {
		return 0, fmt.Errorf("listing pending withdrawals: %w", err)
	}

	batch := pending
	withinWindow := policy.WithinWindow(now)
	if !withinWindow && len(batch) > policy.DailyApprovalBatchLimit {
		batch = batch[:policy.DailyApprovalBatchLimit]
	}

	approved := 0
	for _, candidate := range batch {
		tx, err := s.transactions.Transition(ctx, candidate.ID, models.StatusApproved, "")
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			// Raced by a manual decision between listing and approving.
			log.Printf("[APPROVAL] Skipping %s: %v", candidate.ID, err)
			continue
		}
		if err != nil {
			return approved, err
		}
		approved++
		s.dispatchPayout(ctx, tx)
	}

	log.Printf("[APPROVAL] Auto-approval run: %d pending, window open=%t, approved=%d",
		len(pending), withinWindow, approved)
	return approved, nil
}

// acquireLock guarantees a single concurrent batch run. When Redis is down
// the service degrades to a process-local mutex.
func (s *ApprovalService) acquireLock(ctx context.Context) (func(), error) {
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, autoApprovalLockKey, "1", s.lockTTL).Result()
		if err == nil {
			if !ok {
				return nil, fmt.Errorf("%w: an auto-approval run is already active", ErrConflict)
			}
			return func() { s.redis.Del(ctx, autoApprovalLockKey) }, nil
		}
		log.Printf("[APPROVAL] Redis lock unavailable, falling back to local mutex: %v", err)
	}

	if !s.mu.TryLock() {
		return nil, fmt.Errorf("%w: an auto-approval run is already active", ErrConflict)
	}
	return s.mu.Unlock, nil
}

func (s *ApprovalService) dispatchPayout(ctx context.Context, tx *models.Transaction) {
	if tx.Direction != models.DirectionWithdrawal {
		return
	}

	payout := gateway.Payout{
		TransactionID:  tx.ID,
		ReferenceCode:  tx.ReferenceCode,
		Gateway:        tx.Gateway,
		PayoutChannel:  tx.PayoutChannel,
		PayoutKey:      tx.PayoutKey,
		HolderName:     tx.HolderName,
		HolderDocument: tx.HolderDocument,
		NetAmount:      tx.NetAmount,
	}

	if err := s.gateway.Dispatch(ctx, payout); err != nil {
		log.Printf("[APPROVAL] Payout dispatch failed for %s: %v", tx.ID, err)
		if recErr := s.transactions.RecordGatewayFailure(ctx, tx.ID, "payout dispatch failed: "+err.Error()); recErr != nil {
			log.Printf("[APPROVAL] Could not record gateway failure on %s: %v", tx.ID, recErr)
		}
	}
}

// AutoApprovalScheduler ticks RunAutoApproval on a fixed interval until its
// context is cancelled.
type AutoApprovalScheduler struct {
	approvals *ApprovalService
	interval  time.Duration
}

func NewAutoApprovalScheduler(approvals *ApprovalService, interval time.Duration) *AutoApprovalScheduler {
	return &AutoApprovalScheduler{approvals: approvals, interval: interval}
}

func (s *AutoApprovalScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[APPROVAL] Scheduler started, interval %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[APPROVAL] Scheduler stopped")
			return
		case tick := <-ticker.C:
			if _, err := s.approvals.RunAutoApproval(ctx, tick); err != nil && !errors.Is(err, ErrConflict) {
				log.Printf("[APPROVAL] Scheduled run failed: %v", err)
			}
		}
	}
}
