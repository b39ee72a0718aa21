package exchange

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"FuturesPilot/pkg/logger"
)

func newTestRetrier() (*retrier, *[]time.Duration) {
	var waits []time.Duration
	r := newRetrier(logger.Nop())
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestRetryNetworkThenSuccess(t *testing.T) {
	r, waits := newTestRetrier()
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "read", Err: errors.New("reset")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || len(*waits) != 2 {
		t.Fatalf("calls=%d waits=%d", calls, len(*waits))
	}
}

func TestRetryGivesUpAfterPolicyAttempts(t *testing.T) {
	r, _ := newTestRetrier()
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return &common.APIError{Code: -1003, Message: "too many requests"}
	})
	if KindOf(err) != KindRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls != APIRetry.Attempts {
		t.Fatalf("expected %d calls, got %d", APIRetry.Attempts, calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	r, waits := newTestRetrier()
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return &common.APIError{Code: -2019, Message: "margin is insufficient"}
	})
	if KindOf(err) != KindInsufficientBalance || calls != 1 || len(*waits) != 0 {
		t.Fatalf("permanent errors must not retry: calls=%d err=%v", calls, err)
	}
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	r, waits := newTestRetrier()
	calls := 0
	_ = r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &Error{Op: "op", Kind: KindRateLimit, RetryAfter: time.Hour}
		}
		return nil
	})
	if len(*waits) != 1 || (*waits)[0] != time.Hour {
		t.Fatalf("expected one hour wait, got %v", *waits)
	}
}
