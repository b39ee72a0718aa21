// Package queue is a small Redis-backed work queue with delayed retries and a
// dead-letter list. The process that enqueues and the one that works may be
// the same or different.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues a typed message.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles every message of one type. payload is the message's JSON
// body; decode it with ParsePayload.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type Config struct {
	Workers    int
	RetryLimit int
	// RetryDelay is the first retry's delay; each later one doubles, capped
	// at MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// PollInterval is how often due retries are moved back to the queue.
	PollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = 16 * c.RetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Message is the stored envelope.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	LastError string          `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	return &out, nil
}
