package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/actor"
	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// ExponentialRetryPolicy implements market.RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	signatures  []string
}

var _ market.RetryPolicy = (*ExponentialRetryPolicy)(nil)

// NewExponentialRetryPolicy builds a policy allowing maxAttempts attempts per
// chunk in total. Errors matching an entitlement signature are never retried;
// an empty signature list means DefaultEntitlementSignatures.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, signatures []string) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if len(signatures) == 0 {
		signatures = DefaultEntitlementSignatures
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		signatures:  append([]string(nil), signatures...),
	}
}

// ShouldRetry decides whether a failed attempt is tried again.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, actor.ErrMissingToken) || errors.Is(err, ErrReviewsDisabled) ||
		IsEntitlementError(err, p.signatures) {
		return false
	}
	var apiErr *actor.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return false
		}
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before attempt+1.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
