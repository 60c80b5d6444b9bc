package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const defaultDeliveryTimeout = 10 * time.Second

// Async publishes on a background goroutine with bounded exponential
// backoff. Publish always returns nil: callers must never depend on
// delivery. Failures after the retry budget are logged and dropped.
type Async struct {
	next    Publisher
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. timeout bounds the total time spent retrying one
// event; zero selects a default.
func NewAsync(next Publisher, logger zerolog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Async{next: next, logger: logger, timeout: timeout}
}

func (a *Async) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; one per event.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = a.timeout
	return bo
}

func (a *Async) Publish(ctx context.Context, ev Event) error {
	// The request that produced the event may finish before delivery does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()

		attempts := 0
		err := backoff.Retry(func() error {
			attempts++
			return a.next.Publish(ctx, ev)
		}, backoff.WithContext(a.newBackoff(), ctx))
		if err != nil {
			a.logger.Warn().Err(err).
				Str("category", string(ev.Category)).
				Str("case_id", ev.CaseID).
				Int("attempts", attempts).
				Msg("notification dropped")
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (a *Async) Wait() {
	a.wg.Wait()
}
