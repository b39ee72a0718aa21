package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"FuturesPilot/pkg/logger"
)

// RetryPolicy bounds attempts and delays for one class of failure.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
}

var (
	NetworkRetry = RetryPolicy{Attempts: 5, Min: time.Second, Max: 30 * time.Second, Factor: 2}
	APIRetry     = RetryPolicy{Attempts: 3, Min: 2 * time.Second, Max: time.Minute, Factor: 3}
)

func (p RetryPolicy) backoff() *backoff.Backoff {
	return &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor, Jitter: true}
}

type retrier struct {
	network RetryPolicy
	api     RetryPolicy
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetrier(log *logger.Logger) *retrier {
	return &retrier{network: NetworkRetry, api: APIRetry, log: log, sleep: sleepCtx}
}

// do runs fn until it succeeds, fails with a non-retryable error or the
// policy for the error's kind runs out of attempts.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	netB, apiB := r.network.backoff(), r.api.backoff()
	attempts := map[Kind]int{}
	for {
		err := classify(op, fn(ctx))
		if err == nil {
			return nil
		}
		kind := KindOf(err)
		if !kind.retryable() || ctx.Err() != nil {
			return err
		}

		policy, b := r.network, netB
		if kind == KindRateLimit {
			policy, b = r.api, apiB
		}
		attempts[kind]++
		if attempts[kind] >= policy.Attempts {
			r.log.Error("exchange call failed after retries", logger.String("op", op), logger.Int("attempts", attempts[kind]), logger.Error(err))
			return err
		}

		wait := b.Duration()
		if e, ok := err.(*Error); ok && e.RetryAfter > wait {
			wait = e.RetryAfter
		}
		r.log.Warn("exchange call failed, retrying",
			logger.String("op", op), logger.Int("attempt", attempts[kind]),
			logger.Duration("wait", wait), logger.Error(err))
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
