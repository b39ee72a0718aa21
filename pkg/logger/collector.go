package logger

import (
	"context"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Publisher ships a digest batch. Satisfied by the Kafka producer.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectorConfig struct {
	Interval  time.Duration
	Threshold int // distinct entries that force an early flush
	Topic     string
	Publisher Publisher
	// MinLevel is "warn" or "error"; anything else collects errors only.
	MinLevel string
}

// DigestEntry is one distinct warning or error with its repeat count.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated warnings and errors into digests so that a
// flapping exchange connection produces one record per interval instead of
// thousands.
type LogCollector struct {
	cfg     CollectorConfig
	warn    bool
	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewLogCollector(cfg CollectorConfig) *LogCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	c := &LogCollector{
		cfg:     cfg,
		warn:    cfg.MinLevel == "warn",
		entries: make(map[uint64]*DigestEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *LogCollector) accepts(level string) bool {
	return level == "error" || (level == "warn" && c.warn)
}

func (c *LogCollector) add(level, component, msg string, fields map[string]interface{}, caller string) {
	if !c.accepts(level) {
		return
	}
	key := fingerprint(level, component, msg, caller)
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.Count++
		e.LastSeen = now
		// keep the most recent field values
		e.Fields = fields
	} else {
		c.entries[key] = &DigestEntry{
			Level:     level,
			Message:   msg,
			Component: component,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []DigestEntry
	if len(c.entries) >= c.cfg.Threshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		go c.publish(batch)
	}
}

// fingerprint ignores field values: the same failure against different
// order ids is still the same failure.
func fingerprint(level, component, msg, caller string) uint64 {
	h := fnv.New64a()
	for _, s := range []string{level, component, msg, caller} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (c *LogCollector) drainLocked() []DigestEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]DigestEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*DigestEntry)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

func (c *LogCollector) flush() []DigestEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked()
}

func (c *LogCollector) publish(batch []DigestEntry) {
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// the logger cannot log its own delivery failure through itself
		_, _ = os.Stderr.WriteString("log digest publish failed: " + err.Error() + " (" + strconv.Itoa(len(batch)) + " entries)\n")
	}
}

func (c *LogCollector) run() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.publish(c.flush())
		case <-c.stop:
			return
		}
	}
}

// Close stops the ticker and publishes what is left before returning, so the
// publisher must still be open.
func (c *LogCollector) Close() {
	close(c.stop)
	c.wg.Wait()
	c.publish(c.flush())
}
