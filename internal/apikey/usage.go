package apikey

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// LimitError is returned when a key is over its daily or monthly quota.
// It unwraps to ErrDailyLimitExceeded or ErrMonthlyLimitExceeded.
type LimitError struct {
	Err     error
	Limit   int64
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (limit %d, resets %s)", e.Err, e.Limit, e.ResetAt.Format(time.RFC3339))
}

func (e *LimitError) Unwrap() error { return e.Err }

// NextDailyReset returns the next UTC midnight after now.
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// NextMonthlyReset returns the start of the next UTC calendar month.
func NextMonthlyReset(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// consume runs the lifecycle and quota checks against a locked record and,
// if they all pass, counts the request. Resets are applied to key even when
// a later check rejects.
func consume(key *models.APIKey, now time.Time) error {
	now = now.UTC()

	if !key.IsActive {
		return ErrDeactivated
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(now) {
		return ErrExpired
	}

	today := now.Format(models.ResetDateLayout)
	previous := key.Usage.LastResetDate

	if previous != today {
		key.Usage.RequestsToday = 0
		key.Usage.LastResetDate = today
	}
	if key.Usage.RequestsToday >= key.Usage.DailyLimit {
		return &LimitError{Err: ErrDailyLimitExceeded, Limit: key.Usage.DailyLimit, ResetAt: NextDailyReset(now)}
	}

	// The month comparison uses the date as it was before the daily reset;
	// after the reset it is always today.
	if monthOf(previous) != today[:7] {
		key.Usage.TotalRequests = 0
		key.Usage.RequestsToday = 0
	}
	if key.Usage.TotalRequests >= key.Usage.MonthlyLimit {
		return &LimitError{Err: ErrMonthlyLimitExceeded, Limit: key.Usage.MonthlyLimit, ResetAt: NextMonthlyReset(now)}
	}

	key.Usage.TotalRequests++
	key.Usage.RequestsToday++
	key.LastUsedAt = &now
	return nil
}

func monthOf(date string) string {
	if len(date) < 7 {
		return ""
	}
	return date[:7]
}
