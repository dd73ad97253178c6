package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

const (
	maxAPIRetries  = 2
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// retryPolicy retries GitHub API calls on transient failures: rate limits,
// 5xx responses, and network errors. Client errors are returned as-is.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *zap.Logger

	sleep func(context.Context, time.Duration) error
}

func newRetryPolicy(log *zap.Logger) retryPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return retryPolicy{
		maxRetries: maxAPIRetries,
		backoff:    initialBackoff,
		maxBackoff: maxBackoff,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// do runs op until it succeeds, exhausts the retry budget, or hits a
// non-retryable error. op returns the API response for rate-limit
// inspection; the response may be nil on network errors.
func (p retryPolicy) do(ctx context.Context, name string, op func() (*github.Response, error)) error {
	backoff := p.backoff
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
		}

		resp, err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err, resp) {
			return err
		}
		wait := backoff
		if rl := rateLimitBackoff(resp); rl > 0 {
			wait = rl
			backoff = rl
		}
		p.log.Warn("github call failed, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	return lastErr
}

// isRetryable reports whether an API failure is worth another attempt.
// Rate limits (429, or 403 carrying rate info), server errors, and
// responseless network failures are retryable.
func isRetryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	if resp == nil {
		// Network-level failure, no response to inspect.
		return true
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true
	case resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0:
		return true
	case resp.StatusCode >= 500:
		return true
	}
	return false
}

// rateLimitBackoff returns how long to wait for the rate window to reset,
// or 0 when the response carries no usable reset time.
func rateLimitBackoff(resp *github.Response) time.Duration {
	if resp == nil || resp.Rate.Remaining > 0 || resp.Rate.Limit == 0 {
		return 0
	}
	wait := time.Until(resp.Rate.Reset.Time)
	if wait <= 0 {
		return 0
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}
