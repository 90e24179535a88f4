package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	notFound := NewNotFoundError("grant", "42", "GrantService", "get")

	wrapped := fmt.Errorf("dispatch: %w", notFound)
	joined := errors.Join(errors.New("other"), wrapped)

	if !IsNotFound(wrapped) || !IsNotFound(joined) {
		t.Fatal("NOT_FOUND lost through wrapping")
	}
	if IsInvalidProfile(joined) {
		t.Error("unexpected INVALID_PROFILE match")
	}
	if HasCode(errors.New("plain"), CodeNotFound) {
		t.Error("plain error matched a code")
	}
}

func TestWrapErrorKeepsCode(t *testing.T) {
	original := NewInvalidGrantError("g1", "missing title", "MatchEngine", "evaluate")

	wrapped := WrapError(original, ErrorCategoryDatabase, CodeServiceUnavailable, "Dispatcher", "process", false)
	if wrapped.Code != CodeInvalidGrant {
		t.Errorf("expected code to be kept, got %s", wrapped.Code)
	}
	if wrapped.ServiceName != "Dispatcher" || wrapped.Operation != "process" {
		t.Errorf("context not updated: %s/%s", wrapped.ServiceName, wrapped.Operation)
	}

	plain := errors.New("connection reset by peer")
	fresh := WrapError(plain, ErrorCategoryDatabase, CodeServiceUnavailable, "Store", "list", true)
	if fresh.Code != CodeServiceUnavailable || !errors.Is(fresh, plain) || !fresh.IsRetryable() {
		t.Errorf("unexpected wrap of plain error: %+v", fresh)
	}

	if WrapError(nil, ErrorCategoryDatabase, CodeNotFound, "s", "o", false) != nil {
		t.Error("nil must stay nil")
	}
}

func TestIsDuplicateNotification(t *testing.T) {
	if !IsDuplicateNotification(fmt.Errorf("create: %w", ErrDuplicateNotification)) {
		t.Error("wrapped sentinel not detected")
	}
	if IsDuplicateNotification(errors.New("unique violation")) {
		t.Error("unrelated error detected as duplicate")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("chat not found"), false},
		{NewDeliveryFailure("email", "a@b.c", errors.New("too many requests")), true},
		{NewInvalidProfileError("bad email", "ProfileService", "update"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCircuitBreaker(t *testing.T) {
	breaker := NewErrorIsolationHandler("smtp", 0.5)
	breaker.SetCooldown(50 * time.Millisecond)

	failing := func() error { return errors.New("connection refused") }
	calls := 0
	counted := func() error { calls++; return nil }

	for i := 0; i < 9; i++ {
		_ = breaker.ExecuteWithCircuitBreaker("send", failing)
	}
	if breaker.IsCircuitBreakerOpen() {
		t.Fatal("breaker opened before the minimum sample size")
	}

	_ = breaker.ExecuteWithCircuitBreaker("send", failing)
	if !breaker.IsCircuitBreakerOpen() {
		t.Fatal("expected breaker to open at 100% failures")
	}

	err := breaker.ExecuteWithCircuitBreaker("send", counted)
	if calls != 0 || !HasCode(err, CodeServiceUnavailable) {
		t.Fatalf("expected short-circuit with SERVICE_UNAVAILABLE, got calls=%d err=%v", calls, err)
	}

	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := breaker.ExecuteWithCircuitBreaker("send", counted); err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
	}
	if breaker.IsCircuitBreakerOpen() || calls != 3 {
		t.Errorf("expected breaker closed after trial calls, open=%v calls=%d", breaker.IsCircuitBreakerOpen(), calls)
	}
	if breaker.GetFailureRate() != 0 {
		t.Errorf("expected counters reset, failure rate %v", breaker.GetFailureRate())
	}
}

func TestBreakerWithoutCircuitOnlyCounts(t *testing.T) {
	breaker := NewErrorIsolationHandlerWithoutCircuitBreaker("counting")
	for i := 0; i < 20; i++ {
		_ = breaker.ExecuteWithCircuitBreaker("op", func() error { return errors.New("fail") })
	}
	if breaker.IsCircuitBreakerOpen() {
		t.Error("breaker must never open")
	}
	if breaker.GetFailureRate() != 1 {
		t.Errorf("expected failure rate 1, got %v", breaker.GetFailureRate())
	}
}
