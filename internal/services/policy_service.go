package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"

	"github.com/primeinvest/backend/internal/config"
	"github.com/primeinvest/backend/internal/models"
)

const policyCacheKey = "approval_policy"

var clockRx = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// PolicyService owns the single approval-policy row. Reads go through a short
// Redis cache because the scheduler and every withdrawal creation consult the
// policy; writes invalidate it.
type PolicyService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.ApprovalConfig
	now   func() time.Time
}

func NewPolicyService(db *sql.DB, redisClient *redis.Client, cfg *config.ApprovalConfig) *PolicyService {
	return &PolicyService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Get returns the active policy, seeding the configured defaults when no row
// exists yet.
func (s *PolicyService) Get(ctx context.Context) (*models.ApprovalPolicy, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, policyCacheKey).Result(); err == nil {
			var policy models.ApprovalPolicy
			if json.Unmarshal([]byte(data), &policy) == nil {
				return &policy, nil
			}
		}
	}

	policy, err := s.fetch(ctx)
	if err == sql.ErrNoRows {
		policy, err = s.seed(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.cache(ctx, policy)
	return policy, nil
}

// Update validates and persists a full replacement of the policy.
func (s *PolicyService) Update(ctx context.Context, policy *models.ApprovalPolicy) (*models.ApprovalPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	normalized := make([]string, 0, len(policy.AllowedDays))
	seen := make(map[string]bool)
	for _, day := range policy.AllowedDays {
		day = strings.ToLower(strings.TrimSpace(day))
		if !seen[day] {
			seen[day] = true
			normalized = append(normalized, day)
		}
	}
	policy.AllowedDays = normalized
	policy.UpdatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_policies
		(id, auto_approval_enabled, window_start, window_end, allowed_days,
		 daily_approval_batch_limit, minimum_withdrawal_amount, fee_percentage, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			auto_approval_enabled = EXCLUDED.auto_approval_enabled,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			allowed_days = EXCLUDED.allowed_days,
			daily_approval_batch_limit = EXCLUDED.daily_approval_batch_limit,
			minimum_withdrawal_amount = EXCLUDED.minimum_withdrawal_amount,
			fee_percentage = EXCLUDED.fee_percentage,
			updated_at = EXCLUDED.updated_at
	`, policy.AutoApprovalEnabled, policy.WindowStart, policy.WindowEnd, pq.Array(policy.AllowedDays),
		policy.DailyApprovalBatchLimit, policy.MinimumWithdrawalAmount, policy.FeePercentage, policy.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating approval policy: %w", err)
	}

	s.invalidate(ctx)
	log.Printf("[POLICY] Approval policy updated: auto=%t window=%s-%s limit=%d",
		policy.AutoApprovalEnabled, policy.WindowStart, policy.WindowEnd, policy.DailyApprovalBatchLimit)
	return policy, nil
}

func (s *PolicyService) fetch(ctx context.Context) (*models.ApprovalPolicy, error) {
	var policy models.ApprovalPolicy
	err := s.db.QueryRowContext(ctx, `
		SELECT auto_approval_enabled, window_start, window_end, allowed_days,
		       daily_approval_batch_limit, minimum_withdrawal_amount, fee_percentage, updated_at
		FROM approval_policies
		WHERE id = 1
	`).Scan(&policy.AutoApprovalEnabled, &policy.WindowStart, &policy.WindowEnd, pq.Array(&policy.AllowedDays),
		&policy.DailyApprovalBatchLimit, &policy.MinimumWithdrawalAmount, &policy.FeePercentage, &policy.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("fetching approval policy: %w", err)
	}
	return &policy, nil
}

// seed writes the configured defaults as the initial policy row. A concurrent
// seeder may win the insert; the conflict clause makes that harmless.
func (s *PolicyService) seed(ctx context.Context) (*models.ApprovalPolicy, error) {
	policy := &models.ApprovalPolicy{
		AutoApprovalEnabled:     s.cfg.AutoApprovalEnabled,
		WindowStart:             s.cfg.WindowStart,
		WindowEnd:               s.cfg.WindowEnd,
		AllowedDays:             s.cfg.AllowedDays,
		DailyApprovalBatchLimit: s.cfg.DailyBatchLimit,
		MinimumWithdrawalAmount: s.cfg.MinimumWithdrawalAmount,
		FeePercentage:           s.cfg.FeePercentage,
		UpdatedAt:               s.now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_policies
		(id, auto_approval_enabled, window_start, window_end, allowed_days,
		 daily_approval_batch_limit, minimum_withdrawal_amount, fee_percentage, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, policy.AutoApprovalEnabled, policy.WindowStart, policy.WindowEnd, pq.Array(policy.AllowedDays),
		policy.DailyApprovalBatchLimit, policy.MinimumWithdrawalAmount, policy.FeePercentage, policy.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("seeding approval policy: %w", err)
	}

	log.Printf("[POLICY] Seeded default approval policy (window %s-%s, limit %d)",
		policy.WindowStart, policy.WindowEnd, policy.DailyApprovalBatchLimit)
	return policy, nil
}

func (s *PolicyService) cache(ctx context.Context, policy *models.ApprovalPolicy) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, policyCacheKey, data, s.cfg.PolicyCacheTTL).Err(); err != nil {
		log.Printf("[POLICY] Failed to cache policy: %v", err)
	}
}

func (s *PolicyService) invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, policyCacheKey).Err(); err != nil {
		log.Printf("[POLICY] Failed to invalidate policy cache: %v", err)
	}
}

func validatePolicy(policy *models.ApprovalPolicy) error {
	ve := newValidationError()

	if !clockRx.MatchString(policy.WindowStart) {
		ve.add("windowStart", "must be a 24h clock time in HH:MM form")
	}
	if !clockRx.MatchString(policy.WindowEnd) {
		ve.add("windowEnd", "must be a 24h clock time in HH:MM form")
	}
	if clockRx.MatchString(policy.WindowStart) && clockRx.MatchString(policy.WindowEnd) &&
		policy.WindowStart > policy.WindowEnd {
		ve.add("windowStart", "must not be after windowEnd")
	}

	if policy.DailyApprovalBatchLimit < 1 {
		ve.add("dailyApprovalBatchLimit", "must be at least 1")
	}
	if policy.MinimumWithdrawalAmount < 0 {
		ve.add("minimumWithdrawalAmount", "must not be negative")
	}
	if policy.FeePercentage < 0 || policy.FeePercentage > 100 {
		ve.add("feePercentage", "must be between 0 and 100")
	}

	for _, day := range policy.AllowedDays {
		if !models.ValidWeekday(strings.ToLower(strings.TrimSpace(day))) {
			ve.add("allowedDays", fmt.Sprintf("%q is not a weekday name", day))
			break
		}
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}
