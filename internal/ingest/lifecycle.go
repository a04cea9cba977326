package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/floatchat-io/floatchat/internal/argo"
)

// Lifecycle errors.
var (
	// ErrInvalidTransition is returned when a job status change violates the
	// pending -> running -> succeeded|failed state machine.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("ingestion job not found")

	// ErrJobNotRetryable is returned when retry is requested for a job that
	// is not in the failed state.
	ErrJobNotRetryable = errors.New("only failed jobs can be retried")

	// ErrPermanent wraps failures that retrying can never fix.
	ErrPermanent = errors.New("permanent ingestion failure")

	// ErrTransient wraps failures a caller has already classified as
	// recoverable, such as a lost database connection mid-write.
	ErrTransient = errors.New("transient ingestion failure")
)

// validTransitions encodes the job state machine. Terminal states have no
// outgoing transitions except the explicit retry reset handled separately.
var validTransitions = map[string][]string{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// ValidateStateTransition checks whether a job may move from one status to
// another. Retry resets (failed -> pending) go through ResetForRetry, not here.
func ValidateStateTransition(from, to string) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// MaxAttempts is the number of pipeline runs allowed per job, including the
// first. Only transient failures consume additional attempts.
const MaxAttempts = 3

// retryBackoff is the delay before each re-dispatch, indexed by attempt number.
var retryBackoff = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	90 * time.Second,
}

// RetryBackoff returns the delay before re-dispatching the given attempt
// (1-based: attempt 1 failed -> wait RetryBackoff(1) before attempt 2).
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}

	return retryBackoff[attempt-1]
}

// IsPermanent reports whether a pipeline failure should fail the job
// immediately instead of consuming a retry. Validation and malformed-file
// errors can never succeed on retry; connection and timeout errors can.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrPermanent) {
		return true
	}

	if errors.Is(err, argo.ErrMissingVariable) ||
		errors.Is(err, argo.ErrTrajectoryFile) ||
		errors.Is(err, argo.ErrMalformedFile) ||
		errors.Is(err, argo.ErrNoProfiles) {
		return true
	}

	return false
}

// IsTransient reports whether an error looks like a recoverable infrastructure
// failure: network trouble, timeouts, or unavailable dependencies.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}

	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporarily unavailable",
		"too many connections",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
