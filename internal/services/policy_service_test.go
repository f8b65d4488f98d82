package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeinvest/backend/internal/models"
)

func validPolicy() *models.ApprovalPolicy {
	return &models.ApprovalPolicy{
		AutoApprovalEnabled:     true,
		WindowStart:             "08:00",
		WindowEnd:               "18:00",
		AllowedDays:             []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		DailyApprovalBatchLimit: 3,
		MinimumWithdrawalAmount: 3700,
		FeePercentage:           9.0,
	}
}

func TestPolicyService_Get(t *testing.T) {
	t.Run("reads the stored row", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewPolicyService(db, nil, testApprovalConfig())
		expectPolicyFetch(dbMock, 3700, 9.0)

		policy, err := service.Get(context.Background())
		require.NoError(t, err)
		assert.True(t, policy.AutoApprovalEnabled)
		assert.Equal(t, "08:00", policy.WindowStart)
		assert.Equal(t, []string{"monday", "tuesday", "wednesday", "thursday", "friday"}, policy.AllowedDays)
	})

	t.Run("seeds the configured defaults when no row exists", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		cfg := testApprovalConfig()
		service := NewPolicyService(db, nil, cfg)

		dbMock.ExpectQuery(`SELECT auto_approval_enabled`).
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec(`INSERT INTO approval_policies`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		policy, err := service.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cfg.MinimumWithdrawalAmount, policy.MinimumWithdrawalAmount)
		assert.Equal(t, cfg.DailyBatchLimit, policy.DailyApprovalBatchLimit)
		assert.Equal(t, cfg.FeePercentage, policy.FeePercentage)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("serves from the redis cache without touching the store", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewPolicyService(db, redisClient, testApprovalConfig())

		cached := validPolicy()
		cached.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		data, err := json.Marshal(cached)
		require.NoError(t, err)

		redisMock.ExpectGet(policyCacheKey).SetVal(string(data))

		policy, err := service.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cached.WindowEnd, policy.WindowEnd)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestPolicyService_Update(t *testing.T) {
	newService := func(t *testing.T) (*PolicyService, sqlmock.Sqlmock) {
		db, dbMock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewPolicyService(db, nil, testApprovalConfig()), dbMock
	}

	t.Run("persists a valid replacement", func(t *testing.T) {
		service, dbMock := newService(t)

		dbMock.ExpectExec(`INSERT INTO approval_policies.*ON CONFLICT \(id\) DO UPDATE`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		policy := validPolicy()
		policy.AllowedDays = []string{"Monday", "monday", "friday"}

		updated, err := service.Update(context.Background(), policy)
		require.NoError(t, err)
		assert.Equal(t, []string{"monday", "friday"}, updated.AllowedDays, "days are lowercased and deduplicated")
		assert.False(t, updated.UpdatedAt.IsZero())
	})

	t.Run("rejects a malformed window time", func(t *testing.T) {
		service, _ := newService(t)

		policy := validPolicy()
		policy.WindowStart = "8:00"

		_, err := service.Update(context.Background(), policy)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "windowStart")
	})

	t.Run("rejects an inverted window", func(t *testing.T) {
		service, _ := newService(t)

		policy := validPolicy()
		policy.WindowStart = "18:00"
		policy.WindowEnd = "08:00"

		_, err := service.Update(context.Background(), policy)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "windowStart")
	})

	t.Run("rejects a zero batch limit", func(t *testing.T) {
		service, _ := newService(t)

		policy := validPolicy()
		policy.DailyApprovalBatchLimit = 0

		_, err := service.Update(context.Background(), policy)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "dailyApprovalBatchLimit")
	})

	t.Run("rejects an out-of-range fee", func(t *testing.T) {
		service, _ := newService(t)

		policy := validPolicy()
		policy.FeePercentage = 101

		_, err := service.Update(context.Background(), policy)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "feePercentage")
	})

	t.Run("rejects an unknown weekday", func(t *testing.T) {
		service, _ := newService(t)

		policy := validPolicy()
		policy.AllowedDays = []string{"monday", "funday"}

		_, err := service.Update(context.Background(), policy)
		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "allowedDays")
	})
}
