package apikey

import "errors"

var (
	ErrInvalidFormat        = errors.New("invalid api key format")
	ErrNotFound             = errors.New("api key not found")
	ErrDeactivated          = errors.New("api key has been deactivated")
	ErrExpired              = errors.New("api key has expired")
	ErrDailyLimitExceeded   = errors.New("daily rate limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly rate limit exceeded")
	ErrInvalidScope         = errors.New("invalid scope")
	ErrQuotaExceeded        = errors.New("maximum number of active api keys reached")
	ErrDuplicateName        = errors.New("an active api key with this name already exists")
	ErrOwnershipMismatch    = errors.New("api key belongs to another owner")
	ErrStoreUnavailable     = errors.New("key store unavailable")
	ErrCorruptRecord        = errors.New("corrupt api key record")
)

// Reason returns a short machine-readable label for a validation error,
// used for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDeactivated):
		return "deactivated"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit"
	case errors.Is(err, ErrMonthlyLimitExceeded):
		return "monthly_limit"
	case errors.Is(err, ErrCorruptRecord):
		return "corrupt_record"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
