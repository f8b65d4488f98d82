package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApprovalConfig carries the seed values for the withdrawal approval policy
// plus the operational knobs of the scheduler. The policy itself lives in the
// database and is edited through the admin API; these values are only used
// when no policy row exists yet.
type ApprovalConfig struct {
	AutoApprovalEnabled     bool
	WindowStart             string
	WindowEnd               string
	AllowedDays             []string
	DailyBatchLimit         int
	MinimumWithdrawalAmount int64
	FeePercentage           float64

	// Deposits are free on the instant-transfer rail; crypto gateways charge.
	CryptoDepositFeePercentage float64

	SchedulerLockTTL time.Duration
	PayoutQueue      string
	PolicyCacheTTL   time.Duration
}

func LoadApprovalConfig() *ApprovalConfig {
	return &ApprovalConfig{
		AutoApprovalEnabled:        getEnvAsBool("APPROVAL_AUTO_ENABLED", false),
		WindowStart:                getEnv("APPROVAL_WINDOW_START", "08:00"),
		WindowEnd:                  getEnv("APPROVAL_WINDOW_END", "18:00"),
		AllowedDays:                getEnvAsSlice("APPROVAL_ALLOWED_DAYS", "monday,tuesday,wednesday,thursday,friday"),
		DailyBatchLimit:            getEnvAsInt("APPROVAL_DAILY_BATCH_LIMIT", 3),
		MinimumWithdrawalAmount:    getEnvAsInt64("APPROVAL_MIN_WITHDRAWAL_CENTS", 3700),
		FeePercentage:              getEnvAsFloat("APPROVAL_WITHDRAWAL_FEE_PCT", 9.0),
		CryptoDepositFeePercentage: getEnvAsFloat("CRYPTO_DEPOSIT_FEE_PCT", 5.0),
		SchedulerLockTTL:           getEnvAsDuration("APPROVAL_SCHEDULER_LOCK_TTL", 2*time.Minute),
		PayoutQueue:                getEnv("PAYOUT_QUEUE", "payout_queue"),
		PolicyCacheTTL:             getEnvAsDuration("APPROVAL_POLICY_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key, defaultVal string) []string {
	val := getEnv(key, defaultVal)
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
