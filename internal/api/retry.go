package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// WithTimeout bounds every call to g by d. A non-positive d returns g unchanged.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		resp, err := g.Generate(ctx, req)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generate timed out after %s: %w", d, err)
		}
		return resp, err
	})
}

// WithRetry retries transient failures up to attempts times in total, doubling
// the wait after each failure. Cancellation and client errors are returned
// immediately.
func WithRetry(g Generator, attempts int, backoff time.Duration) Generator {
	if attempts <= 1 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		wait := backoff
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			resp, err := g.Generate(ctx, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if !Retryable(err) || ctx.Err() != nil || attempt == attempts {
				break
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
			wait *= 2
		}
		return nil, lastErr
	})
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return true
		}
		return code < 400
	}
	return true
}

// CallHook observes a finished call.
type CallHook func(req Request, resp *Response, err error, elapsed time.Duration)

// WithHook invokes fn after every call to g.
func WithHook(g Generator, fn CallHook) Generator {
	if fn == nil {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		start := time.Now()
		resp, err := g.Generate(ctx, req)
		fn(req, resp, err, time.Since(start))
		return resp, err
	})
}
