package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
)

// Kind classifies exchange failures so callers can decide whether to retry.
type Kind string

const (
	KindRateLimit           Kind = "rate_limit"
	KindNetwork             Kind = "network"
	KindAuth                Kind = "auth"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInvalidOrder        Kind = "invalid_order"
	KindPositionNotFound    Kind = "position_not_found"
	KindUnknown             Kind = "unknown"
)

var ErrPositionNotFound = &Error{Kind: KindPositionNotFound, Op: "position"}

type Error struct {
	Kind       Kind
	Op         string
	Code       int64
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("exchange %s: %s", e.Op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrPositionNotFound) works for any op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if it was not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func (k Kind) retryable() bool { return k == KindNetwork || k == KindRateLimit }

// classify wraps a raw client error. Context cancellation passes through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	if common.IsAPIError(err) {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			e := &Error{Op: op, Code: apiErr.Code, Err: err, Kind: kindForCode(apiErr.Code)}
			if e.Kind == KindRateLimit {
				e.RetryAfter = retryAfterFromMessage(apiErr.Message, time.Now())
			}
			return e
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "418"), strings.Contains(msg, "too many requests"):
		return &Error{Op: op, Kind: KindRateLimit, Err: err}
	case strings.Contains(msg, "connection"), strings.Contains(msg, "eof"), strings.Contains(msg, "timeout"):
		return &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	return &Error{Op: op, Kind: KindUnknown, Err: err}
}

func kindForCode(code int64) Kind {
	switch code {
	case -1003, -1015:
		return KindRateLimit
	case -1001, -1007, -1016:
		return KindNetwork
	case -1022, -2014, -2015:
		return KindAuth
	case -2018, -2019, -4051:
		return KindInsufficientBalance
	case -2022, -4061:
		return KindPositionNotFound
	case -1013, -1100, -1102, -1111, -1116, -1117, -2010, -4003, -4164:
		return KindInvalidOrder
	}
	return KindUnknown
}

// retryAfterFromMessage extracts the ban deadline from "banned until <ms>".
func retryAfterFromMessage(msg string, now time.Time) time.Duration {
	idx := strings.Index(msg, "until ")
	if idx < 0 {
		return 0
	}
	var ms int64
	if _, err := fmt.Sscanf(msg[idx+len("until "):], "%d", &ms); err != nil {
		return 0
	}
	until := time.UnixMilli(ms)
	if !until.After(now) || until.After(now.Add(24*time.Hour)) {
		return 0
	}
	return until.Sub(now)
}
