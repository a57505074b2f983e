package httpclient

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/ghga-de/ghga-connector/internal/logging"
)

// ErrorType classifies a failed request so the retry loop knows whether
// retrying can plausibly help.
type ErrorType int

const (
	// ErrorTypeNone means the request succeeded.
	ErrorTypeNone ErrorType = iota
	// ErrorTypeTransient covers connection resets, timeouts, and DNS
	// failures — worth retrying.
	ErrorTypeTransient
	// ErrorTypeRetryableStatus covers a response whose status code is
	// in the configured retry set.
	ErrorTypeRetryableStatus
	// ErrorTypePermanent covers everything else: retrying cannot help.
	ErrorTypePermanent
)

// RetryPolicy controls how ExecuteWithRetry backs off between attempts.
type RetryPolicy struct {
	MaxRetries        int
	BackoffMaxSeconds int
	RetryStatusCodes  map[int]bool
}

// NewRetryPolicy builds a RetryPolicy from configuration values.
func NewRetryPolicy(maxRetries, backoffMax int, statusCodes []int) RetryPolicy {
	set := make(map[int]bool, len(statusCodes))
	for _, code := range statusCodes {
		set[code] = true
	}
	return RetryPolicy{
		MaxRetries:        maxRetries,
		BackoffMaxSeconds: backoffMax,
		RetryStatusCodes:  set,
	}
}

// ClassifyError determines the ErrorType for a (response, error) pair
// returned by a round trip attempt.
func ClassifyError(resp *http.Response, err error, policy RetryPolicy) ErrorType {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return ErrorTypeTransient
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrorTypePermanent
		}
		return ErrorTypeTransient
	}

	if resp == nil {
		return ErrorTypePermanent
	}

	if resp.StatusCode < 400 {
		return ErrorTypeNone
	}

	if policy.RetryStatusCodes[resp.StatusCode] {
		return ErrorTypeRetryableStatus
	}

	return ErrorTypePermanent
}

// CalculateBackoff returns the delay before attempt number `attempt`
// (1-indexed), using full-jitter exponential backoff capped at
// policy.BackoffMaxSeconds.
func CalculateBackoff(attempt int, policy RetryPolicy) time.Duration {
	if policy.BackoffMaxSeconds <= 0 {
		return 0
	}
	capSeconds := float64(policy.BackoffMaxSeconds)
	base := math.Min(capSeconds, math.Pow(2, float64(attempt)))
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// ExecuteWithRetry runs do, retrying per policy with classified errors
// and exponential backoff, honoring ctx cancellation between attempts.
func ExecuteWithRetry(ctx context.Context, policy RetryPolicy, logger *logging.Logger, do func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(attempt, policy)
			if logger != nil {
				logger.Debugf("retrying request, attempt %d/%d after %v", attempt, policy.MaxRetries, delay)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := do()
		kind := ClassifyError(resp, err, policy)

		switch kind {
		case ErrorTypeNone:
			return resp, nil
		case ErrorTypePermanent:
			return resp, err
		case ErrorTypeTransient, ErrorTypeRetryableStatus:
			lastErr = err
			lastResp = resp
			if resp != nil && attempt < policy.MaxRetries {
				resp.Body.Close()
			}
			continue
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}
