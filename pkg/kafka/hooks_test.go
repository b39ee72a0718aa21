package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestHookChainOrderAndPanics(t *testing.T) {
	var order []string
	rec := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, km kafka.Message) (context.Context, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, append(km.Value, name...), nil
			},
			After: func(context.Context, kafka.Message, int, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	panicky := HookFuncs{After: func(context.Context, kafka.Message, int, error) { panic("boom") }}
	chain := NewHookChain(rec("a"), nil, panicky, rec("b"))

	_, data, err := chain.BeforeHandle(context.Background(), kafka.Message{Value: []byte(">")})
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if string(data) != ">ab" {
		t.Fatalf("payload = %q, want >ab", data)
	}
	chain.AfterHandle(context.Background(), kafka.Message{}, 1, nil)

	want := []string{"before:a", "before:b", "after:b", "after:a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHookChainBeforePanicBecomesError(t *testing.T) {
	chain := NewHookChain(HookFuncs{
		Before: func(context.Context, kafka.Message) (context.Context, []byte, error) { panic("bad header") },
	})
	_, data, err := chain.BeforeHandle(context.Background(), kafka.Message{Value: []byte("x")})
	if err == nil {
		t.Fatalf("expected error from panicking hook")
	}
	if string(data) != "x" {
		t.Fatalf("payload should be untouched, got %q", data)
	}
}

func TestTraceHookLiftsHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("abc")}}}
	ctx, _, err := TraceHook{}.BeforeHandle(context.Background(), km)
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("trace id = %q", got)
	}
	if got := TraceID(WithTraceID(context.Background(), "")); got != "" {
		t.Fatalf("empty id should not be stored, got %q", got)
	}
}

func TestEncodeAndCompression(t *testing.T) {
	b, err := encode(map[string]int{"n": 1})
	if err != nil || string(b) != `{"n":1}` {
		t.Fatalf("encode = %s, %v", b, err)
	}
	if b, _ := encode("raw"); string(b) != "raw" {
		t.Fatalf("string passthrough = %s", b)
	}
	if _, err := encode(make(chan int)); err == nil {
		t.Fatalf("expected encode error for channel")
	}
	if c, err := parseCompression(""); err != nil || c != kafka.Snappy {
		t.Fatalf("default compression = %v, %v", c, err)
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestConsumerStartWithoutHandlers(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrNoHandlers) {
		t.Fatalf("start = %v, want ErrNoHandlers", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop of unstarted consumer: %v", err)
	}
}
