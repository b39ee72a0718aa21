package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// HeaderTraceID carries a correlation id from producer to consumer.
const HeaderTraceID = "trace_id"

// ConsumerHook observes message handling. BeforeHandle may replace the
// context or payload; an error from it skips the handler and counts as a
// failed attempt. OnError runs once per failed attempt, AfterHandle once per
// attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, km kafka.Message, attempt int, err error)
	OnError(ctx context.Context, km kafka.Message, attempt int, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, []byte, error) {
	return ctx, km.Value, nil
}
func (NoopHook) AfterHandle(context.Context, kafka.Message, int, error) {}
func (NoopHook) OnError(context.Context, kafka.Message, int, error)     {}

// HookFuncs adapts plain functions; nil fields are no-ops.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, []byte, error)
	After  func(context.Context, kafka.Message, int, error)
	Err    func(context.Context, kafka.Message, int, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, km.Value, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, attempt int, err error) {
	if h.After != nil {
		h.After(ctx, km, attempt, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, km kafka.Message, attempt int, err error) {
	if h.Err != nil {
		h.Err(ctx, km, attempt, err)
	}
}

// HookChain runs hooks in order for BeforeHandle and in reverse for
// AfterHandle. A panicking hook is turned into an error (Before) or ignored
// (After, OnError); it never takes a worker down.
type HookChain []ConsumerHook

func NewHookChain(hooks ...ConsumerHook) HookChain {
	out := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (c HookChain) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, []byte, error) {
	for _, h := range c {
		next, data, err := safeBefore(h, ctx, km)
		if err != nil {
			return ctx, km.Value, err
		}
		ctx, km.Value = next, data
	}
	return ctx, km.Value, nil
}

func (c HookChain) AfterHandle(ctx context.Context, km kafka.Message, attempt int, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		h := c[i]
		guard(func() { h.AfterHandle(ctx, km, attempt, err) })
	}
}

func (c HookChain) OnError(ctx context.Context, km kafka.Message, attempt int, err error) {
	for _, h := range c {
		h := h
		guard(func() { h.OnError(ctx, km, attempt, err) })
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, km kafka.Message) (next context.Context, data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, data, err = ctx, km.Value, fmt.Errorf("consumer hook panic: %v", r)
		}
	}()
	return h.BeforeHandle(ctx, km)
}

func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type traceKey struct{}

// WithTraceID tags ctx so that Publish forwards the id as a header.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// TraceHook lifts the trace_id header into the handler context.
type TraceHook struct{ NoopHook }

func (TraceHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, []byte, error) {
	for _, h := range km.Headers {
		if h.Key == HeaderTraceID && len(h.Value) > 0 {
			return WithTraceID(ctx, string(h.Value)), km.Value, nil
		}
	}
	return ctx, km.Value, nil
}
