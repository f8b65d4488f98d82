package models

import (
	"strings"
	"time"
)

// Direction indicates whether money is entering or leaving the platform.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// Status is the lifecycle state of a money-movement request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target. The machine only moves forward: pending may enter processing or any
// terminal state, processing may only enter a terminal state.
func (s Status) CanTransitionTo(target Status) bool {
	if s.Terminal() || !target.Valid() || target == StatusPending {
		return false
	}
	if target == StatusProcessing {
		return s == StatusPending
	}
	return true
}

// Transaction is one deposit or withdrawal request. Amounts are in cents.
// FeeAmount and NetAmount are fixed at creation and never recomputed, so
// historical records stay stable when the fee percentage changes later.
type Transaction struct {
	ID              string     `json:"id"`
	Direction       Direction  `json:"direction"`
	SubjectID       string     `json:"subjectId"`
	SubjectName     string     `json:"subjectName"`
	SubjectEmail    string     `json:"subjectEmail"`
	RequestedAmount int64      `json:"requestedAmount"`
	FeeAmount       int64      `json:"feeAmount"`
	NetAmount       int64      `json:"netAmount"`
	PayoutChannel   string     `json:"payoutChannel"`
	PayoutKey       string     `json:"payoutKey,omitempty"`
	HolderName      string     `json:"holderName"`
	HolderDocument  string     `json:"holderDocument"`
	ReferenceCode   string     `json:"referenceCode"`
	Gateway         string     `json:"gateway"`
	Status          Status     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
}

// ApprovalPolicy configures the withdrawal auto-approval scheduler. There is
// a single policy row; it is edited independently of any transaction.
type ApprovalPolicy struct {
	AutoApprovalEnabled     bool      `json:"autoApprovalEnabled"`
	WindowStart             string    `json:"windowStart"`
	WindowEnd               string    `json:"windowEnd"`
	AllowedDays             []string  `json:"allowedDays"`
	DailyApprovalBatchLimit int       `json:"dailyApprovalBatchLimit"`
	MinimumWithdrawalAmount int64     `json:"minimumWithdrawalAmount"`
	FeePercentage           float64   `json:"feePercentage"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// WithinWindow reports whether the time of day of now falls inside
// [WindowStart, WindowEnd]. Times are zero-padded "HH:MM" strings, so the
// comparison is lexicographic at minute resolution within one calendar day.
func (p *ApprovalPolicy) WithinWindow(now time.Time) bool {
	hhmm := now.Format("15:04")
	return p.WindowStart <= hhmm && hhmm <= p.WindowEnd
}

// DayAllowed reports whether now's weekday is on the policy allow-list.
// An empty list allows no day.
func (p *ApprovalPolicy) DayAllowed(now time.Time) bool {
	day := strings.ToLower(now.Weekday().String())
	for _, d := range p.AllowedDays {
		if strings.EqualFold(d, day) {
			return true
		}
	}
	return false
}

// WeekdayNames is the set of accepted allowed-day values.
var WeekdayNames = []string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

func ValidWeekday(name string) bool {
	for _, d := range WeekdayNames {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}
