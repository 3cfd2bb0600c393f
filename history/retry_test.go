package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	errBusy := errors.New("busy")
	calls := 0
	flaky := func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	}

	r := Retry{Attempts: 3, Backoff: time.Millisecond}
	if err := r.Do(context.Background(), flaky); err != nil {
		t.Errorf("Do() unexpected error = %v", err)
	}
	if calls != 3 {
		t.Errorf("Do() calls = %d want 3", calls)
	}

	calls = 0
	r.Attempts = 2
	if err := r.Do(context.Background(), flaky); !errors.Is(err, errBusy) {
		t.Errorf("Do() error = %v want %v", err, errBusy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = Retry{Attempts: 5, Backoff: time.Hour}
	if err := r.Do(ctx, func(context.Context) error { return errBusy }); !errors.Is(err, context.Canceled) {
		t.Errorf("Do() on a canceled context error = %v want context.Canceled", err)
	}
}

func TestRetryTimeout(t *testing.T) {
	r := Retry{Attempts: 1, Timeout: time.Millisecond}
	err := r.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v want context.DeadlineExceeded", err)
	}
}
