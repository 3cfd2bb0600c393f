package history

import (
	"context"
	"fmt"
	"time"
)

// Retry bounds the attempts made on one provider call.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"` // doubled after each failure
	Timeout  time.Duration `yaml:"timeout"` // per attempt, 0 means none
}

// DefaultRetry matches the production behaviour: 3 attempts, 5s apart.
var DefaultRetry = Retry{Attempts: 3, Backoff: 5 * time.Second, Timeout: 30 * time.Second}

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
func (r Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(r.Attempts, 1)
	wait := r.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			case <-t.C:
			}
			wait *= 2
		}
		err = r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func (r Retry) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return fn(ctx)
}
