package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/segmentio/kafka-go"

	"FuturesPilot/pkg/logger"
)

// MessageHandler handles the messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

var (
	ErrNoHandlers     = errors.New("kafka consumer: no handlers registered")
	ErrConsumerActive = errors.New("kafka consumer: already started")
)

type partitionKey struct {
	topic     string
	partition int
}

type delivery struct {
	handler MessageHandler
	reader  *kafka.Reader
	msg     kafka.Message
}

// Consumer reads registered topics in a consumer group and hands messages to
// a worker pool. Messages of one partition are handled one at a time, and an
// offset is committed only after its message succeeded or was dead-lettered.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook

	queue    chan delivery
	quit     chan struct{}
	cancel   context.CancelFunc
	readWG   sync.WaitGroup
	workWG   sync.WaitGroup
	started  bool
	stopOnce sync.Once

	locksMu sync.Mutex
	locks   map[partitionKey]*sync.Mutex
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	c := &Consumer{
		cfg:      cfg,
		log:      log.With("kafka_consumer"),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		queue:    make(chan delivery, cfg.BufferSize),
		quit:     make(chan struct{}),
		locks:    make(map[partitionKey]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	registerMetrics()
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the same
// topic replaces the first.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("handler replaced", logger.String("topic", h.Topic()))
	}
	c.handlers[h.Topic()] = h
}

// WithConsumerHook installs h for every message; use NewHookChain for more
// than one.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per topic and launches the workers. It does not block.
func (c *Consumer) Start() error {
	if c.started {
		return ErrConsumerActive
	}
	if len(c.handlers) == 0 {
		return ErrNoHandlers
	}
	c.started = true

	start := kafka.FirstOffset
	if c.cfg.StartOffset == "latest" {
		start = kafka.LastOffset
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.cfg.Workers; i++ {
		c.workWG.Add(1)
		go c.work()
	}
	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.readers[topic] = r
		c.readWG.Add(1)
		go c.fetch(ctx, h, r)
	}
	c.log.Info("consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.Workers))
	return nil
}

// Stop halts fetching, lets workers finish the message in hand and closes the
// readers. Messages still queued are not committed and will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if !c.started {
			return
		}
		close(c.quit)
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.readWG.Wait()
			close(c.queue)
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("reader close failed", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("dlq writer close failed", logger.Error(cerr))
			}
		}
		c.log.Info("consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, h MessageHandler, r *kafka.Reader) {
	defer c.readWG.Done()
	topic := h.Topic()
	b := &backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: true}

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Duration("retry_in", wait), logger.Error(err))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()

		select {
		case c.queue <- delivery{handler: h, reader: r, msg: km}:
			consumerQueue.WithLabelValues(topic).Set(float64(len(c.queue)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work() {
	defer c.workWG.Done()
	for d := range c.queue {
		c.process(d)
	}
}

func (c *Consumer) process(d delivery) {
	km := d.msg
	start := time.Now()

	lock := c.partitionLock(km.Topic, km.Partition)
	lock.Lock()
	defer lock.Unlock()

	b := &backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: true}
	var (
		err     error
		attempt int
	)
	for {
		attempt++
		err = c.attempt(d.handler, km, attempt)
		if err == nil || attempt > c.cfg.RetryMax {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-c.quit:
			// left uncommitted; the group redelivers it
			return
		}
	}

	result := "ok"
	switch {
	case err == nil && attempt > 1:
		result = "retried_ok"
	case err != nil && c.dlq != nil:
		if derr := c.deadLetter(km, attempt, err); derr != nil {
			consumerDLQ.WithLabelValues(km.Topic).Inc()
			c.log.Error("dead-letter write failed",
				logger.String("topic", km.Topic),
				logger.Int64("offset", km.Offset),
				logger.Error(derr))
			result = "failed"
		} else {
			result = "dlq"
		}
	case err != nil:
		result = "failed"
	}
	if err != nil {
		c.log.Error("message handling failed",
			logger.String("topic", km.Topic),
			logger.Int("partition", km.Partition),
			logger.Int64("offset", km.Offset),
			logger.Int("attempts", attempt),
			logger.String("result", result),
			logger.Error(err))
	}

	if result != "failed" {
		c.commit(d.reader, km)
	}
	consumerHandled.WithLabelValues(km.Topic, result).Inc()
	consumerLatency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) attempt(h MessageHandler, km kafka.Message, n int) (err error) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(ctx, km, n, err)
		if err != nil {
			c.hook.OnError(ctx, km, n, err)
		}
	}()

	hctx, data, err := c.hook.BeforeHandle(ctx, km)
	if err != nil {
		return err
	}
	ctx = hctx
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(km kafka.Message, attempts int, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(km.Topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(km.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
		{Key: "error", Value: []byte(cause.Error())},
	}, km.Headers...)
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     km.Key,
		Value:   km.Value,
		Headers: headers,
	})
}

func (c *Consumer) commit(r *kafka.Reader, km kafka.Message) {
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: true}
	var err error
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(b.Duration())
	}
	c.log.Error("offset commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	k := partitionKey{topic: topic, partition: partition}
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[k]
	if !ok {
		l = &sync.Mutex{}
		c.locks[k] = l
	}
	return l
}
