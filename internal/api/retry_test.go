package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

func apiError(code int) error {
	return &anthropic.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/messages", nil),
		Response:   &http.Response{StatusCode: code},
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", errors.Join(errors.New("call"), context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", apiError(http.StatusTooManyRequests), true},
		{"overloaded", apiError(529), true},
		{"bad request", apiError(http.StatusBadRequest), false},
		{"unauthorized", apiError(http.StatusUnauthorized), false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	g := WithRetry(GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporary")
		}
		return &Response{Text: "ok"}, nil
	}), 3, time.Millisecond)

	resp, err := g.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q", resp.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWithRetry_StopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	g := WithRetry(GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return nil, apiError(http.StatusBadRequest)
	}), 3, time.Millisecond)

	if _, err := g.Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	g := WithRetry(GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return nil, errors.New("still down")
	}), 3, time.Millisecond)

	if _, err := g.Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWithTimeout(t *testing.T) {
	g := WithTimeout(GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 10*time.Millisecond)

	start := time.Now()
	_, err := g.Generate(context.Background(), Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not applied")
	}
}

func TestWithHook(t *testing.T) {
	var seen int
	g := WithHook(GeneratorFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{TokensIn: 5}, nil
	}), func(req Request, resp *Response, err error, elapsed time.Duration) {
		seen++
		if resp.TokensIn != 5 || err != nil {
			t.Errorf("hook saw resp=%+v err=%v", resp, err)
		}
	})

	if _, err := g.Generate(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Errorf("hook called %d times, want 1", seen)
	}
}
