package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"
)

// Getter is the part of apiclient.Client used for status checks.
type Getter interface {
	Get(ctx context.Context, resource string, query url.Values, v any) error
}

// WaiterConfig holds the polling configuration.
type WaiterConfig struct {
	Interval    time.Duration `env:"INTERVAL"`     // default: 5s
	MaxInterval time.Duration `env:"MAX_INTERVAL"` // default: Interval, no backoff
	Timeout     time.Duration `env:"TIMEOUT"`      // default: no timeout
}

func (c *WaiterConfig) interval() time.Duration {
	if c.Interval <= 0 {
		return 5 * time.Second
	}
	return c.Interval
}

// Waiter checks the status of a remote build until it ends.
type Waiter struct {
	api    Getter
	config *WaiterConfig
	log    *slog.Logger
}

func NewWaiter(api Getter, config *WaiterConfig, log *slog.Logger) *Waiter {
	if config == nil {
		config = &WaiterConfig{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Waiter{api: api, config: config, log: log.With("component", "build.Waiter")}
}

// Wait checks the build status until it is terminal and returns the build.
// A failed build is returned together with a *FailedError.
// A failed status check ends waiting with ErrPoll.
// When ctx is done or the configured timeout passes, Wait returns ErrAbandoned
// within one interval. The remote build keeps running.
func (w *Waiter) Wait(ctx context.Context, id ID) (*Build, error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		b, err := w.check(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, abandonedError(ctx)
			}
			return nil, fmt.Errorf("build.Waiter: %w", errors.Join(ErrPoll, err))
		}
		w.log.Debug("checked build status", "build_id", id, "status", b.Status, "attempt", attempt)

		switch {
		case b.Status.Succeeded():
			return b, nil
		case b.Status.Terminal():
			return b, &FailedError{BuildID: id, Status: b.Status, LogsURL: b.Artifacts.LogsURL}
		}

		timer := time.NewTimer(w.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, abandonedError(ctx)
		}
	}
}

type checkResult struct {
	build *Build
	err   error
}

// check runs one status check. If ctx is done while the check is in flight,
// check returns immediately and the check's result is discarded.
func (w *Waiter) check(ctx context.Context, id ID) (*Build, error) {
	results := make(chan checkResult, 1)
	go func() {
		var b Build
		err := w.api.Get(context.WithoutCancel(ctx), "builds/"+url.PathEscape(string(id)), nil, &b)
		if b.ID == "" {
			b.ID = id
		}
		results <- checkResult{build: &b, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, r.err
		}
		return r.build, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// delay calculates the wait before the next status check.
// With MaxInterval above Interval it is calculated using exponential backoff
// with jitter: it starts at Interval, grows by 1.5 with each attempt and is
// capped at MaxInterval, then up to 25% is added or subtracted.
// The first attempt number is 0.
func (w *Waiter) delay(attempt int) time.Duration {
	interval := w.config.interval()
	maxInterval := w.config.MaxInterval
	if maxInterval <= interval {
		return interval
	}

	duration := interval
	for i := 0; i < attempt && duration < maxInterval; i++ {
		duration = duration / 2 * 3
	}
	duration = min(duration, maxInterval)

	if quarter := int64(duration / 4); quarter > 0 {
		duration += time.Duration(rand.Int64N(2*quarter) - quarter)
	}

	return duration
}

func abandonedError(ctx context.Context) error {
	return fmt.Errorf("build.Waiter: %w", errors.Join(ErrAbandoned, context.Cause(ctx)))
}
