package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) ChatCompletion(context.Context, []Message, string, Options) (*Response, error) {
	return &Response{ID: "stub"}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "anthropic"})

	p, err := r.Get("openai")
	if err != nil || p.Name() != "openai" {
		t.Fatalf("Get(openai) = %v, %v", p, err)
	}

	if _, err := r.Get("mistral"); err == nil {
		t.Error("unknown provider should error")
	} else if !strings.Contains(err.Error(), "anthropic") {
		t.Errorf("error should list available providers, got %v", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Names() = %v, want sorted [anthropic openai]", names)
	}
}

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "system", Content: "use json"},
	})

	if system != "be terse\nuse json" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 2 {
		t.Errorf("turns = %d, want 2 (system messages removed)", len(turns))
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	for _, code := range retryable {
		if !isRetryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusOK} {
		if isRetryableStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, 100*time.Millisecond, time.Second)
		if d < 0 || d > time.Second {
			t.Errorf("attempt %d: delay %v out of [0, 1s]", attempt, d)
		}
	}
	if d := backoffDelay(3, 0, time.Second); d != 0 {
		t.Errorf("zero base should yield zero delay, got %v", d)
	}
}

// transientErr mimics a transport timeout.
type transientErr struct{}

func (transientErr) Error() string   { return "connection reset" }
func (transientErr) Timeout() bool   { return true }
func (transientErr) Temporary() bool { return true }

func TestRetryCompletionRetriesTransient(t *testing.T) {
	calls := 0
	resp, err := retryCompletion(context.Background(), func(context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, transientErr{}
		}
		return &Response{ID: "ok"}, nil
	})

	if err != nil || resp.ID != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryCompletionGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := retryCompletion(context.Background(), func(context.Context) (*Response, error) {
		calls++
		return nil, transientErr{}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestRetryCompletionDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid request")
	_, err := retryCompletion(context.Background(), func(context.Context) (*Response, error) {
		calls++
		return nil, permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestRetryCompletionHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryCompletion(ctx, func(context.Context) (*Response, error) {
		calls++
		return nil, transientErr{}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
