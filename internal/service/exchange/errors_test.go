package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
)

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		code int64
		want Kind
	}{
		{-1003, KindRateLimit},
		{-2015, KindAuth},
		{-2019, KindInsufficientBalance},
		{-1111, KindInvalidOrder},
		{-2022, KindPositionNotFound},
		{-9999, KindUnknown},
	}
	for _, c := range cases {
		err := classify("op", &common.APIError{Code: c.code, Message: "x"})
		if got := KindOf(err); got != c.want {
			t.Fatalf("code %d: want %s, got %s", c.code, c.want, got)
		}
	}
}

func TestClassifyNetworkAndContext(t *testing.T) {
	err := classify("op", &net.OpError{Op: "dial", Err: errors.New("refused")})
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network kind, got %v", err)
	}
	if err := classify("op", context.Canceled); err != context.Canceled {
		t.Fatalf("context errors must pass through, got %v", err)
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil stays nil")
	}
}

func TestPositionNotFoundIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &Error{Op: "close_position", Kind: KindPositionNotFound})
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("errors.Is should match on kind")
	}
}

func TestRetryAfterFromMessage(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	msg := fmt.Sprintf("Way too many requests; IP banned until %d.", now.Add(90*time.Second).UnixMilli())
	if d := retryAfterFromMessage(msg, now); d != 90*time.Second {
		t.Fatalf("expected 90s, got %v", d)
	}
	if d := retryAfterFromMessage("no deadline", now); d != 0 {
		t.Fatalf("expected zero, got %v", d)
	}
}

func TestFormatDecimalTruncates(t *testing.T) {
	if got := formatDecimal(0.12399, 3); got != "0.123" {
		t.Fatalf("got %s", got)
	}
	if got := formatDecimal(0.0004, 3); got != "0" {
		t.Fatalf("got %s", got)
	}
	if id := NewClientOrderID(); len(id) > 36 {
		t.Fatalf("client id too long: %s", id)
	}
}
