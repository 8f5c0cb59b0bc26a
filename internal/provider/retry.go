package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go/v2"
	"github.com/rs/zerolog/log"
)

const (
	maxRetries = 2
	baseDelay  = 500 * time.Millisecond
	maxDelay   = 5 * time.Second
)

// retryCompletion calls fn with up to maxRetries retries on transient
// failures, using exponential backoff with full jitter.
func retryCompletion[T any](ctx context.Context, fn func(context.Context) (*T, error)) (*T, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := sleepWithContext(ctx, backoffDelay(attempt-1, baseDelay, maxDelay)); err != nil {
				return nil, err
			}
			log.Debug().Int("attempt", attempt).Msg("retrying provider call")
		}

		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryable reports whether a provider error is worth retrying: transport
// failures, rate limits, and upstream 5xx. Client errors (other 4xx) are
// never retried.
func isRetryable(err error) bool {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return isRetryableStatus(openaiErr.StatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return isRetryableStatus(anthropicErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Context cancellation is the caller's decision, not a transient fault.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return false
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// backoffDelay is exponential backoff with full jitter, clamped to maxDelay.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay)))
	}
	return delay
}

// sleepWithContext sleeps for d, returning early with ctx.Err() when the
// context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
