// Package scanner holds the scanning backends used by the protected scan
// endpoints, plus the shared error taxonomy and threat labelling.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for scanner failures.
var (
	ErrScannerUnavailable = errors.New("scanner unavailable")
	ErrScanTimeout        = errors.New("scan timeout")
	ErrInvalidResponse    = errors.New("invalid scanner response")
	ErrNotConfigured      = errors.New("scanner not configured")
)

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrScanTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrScanTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
}
