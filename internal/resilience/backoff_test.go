package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)
	for attempt := range 10 {
		d := Backoff(500*time.Millisecond, attempt)
		if d <= prev {
			t.Fatalf("Backoff(%d) = %v, not greater than %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	errPermanent := errors.New("permanent")
	errTransient := errors.New("transient")

	tests := []struct {
		name      string
		results   []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", results: []error{nil}, wantCalls: 1},
		{name: "recovers", results: []error{errTransient, errTransient, nil}, wantCalls: 3},
		{name: "exhausted", results: []error{errTransient, errTransient, errTransient, nil}, wantCalls: 3, wantErr: errTransient},
		{name: "permanent stops", results: []error{errPermanent, nil}, wantCalls: 1, wantErr: errPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			err := Retry(t.Context(), RetryConfig{
				Attempts:  3,
				Base:      time.Millisecond,
				Retryable: func(err error) bool { return !errors.Is(err, errPermanent) },
			}, func(context.Context) error {
				err := tt.results[calls]
				calls++
				return err
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	err := Retry(ctx, RetryConfig{Attempts: 5, Base: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
