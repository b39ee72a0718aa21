package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"

	"FuturesPilot/pkg/logger"
)

var ErrQueueRunning = errors.New("queue already running")

// promote moves due retries back onto the queue in one step, so two workers
// polling the same prefix never both requeue a message.
var promote = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

type Option func(*RedisQueue)

// WithKeyPrefix namespaces the queue's lists, e.g. "futurespilot:outbox".
func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// RedisQueue keeps four keys under its prefix: messages (pending list),
// processing (claimed by a worker), retry (sorted by due time) and dlq.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client
	prefix string
	jobs   map[string]Job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func newRedisQueue(log *logger.Logger, cfg Config, client *redis.Client, opts ...Option) *RedisQueue {
	cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	q := &RedisQueue{
		log:    log,
		cfg:    cfg,
		client: client,
		prefix: "futurespilot:queue",
		jobs:   make(map[string]Job),
		now:    time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// NewRedisConsumer returns a queue whose workers run jobs once started.
// PublishMessage works with or without Start.
func NewRedisConsumer(log *logger.Logger, cfg Config, client *redis.Client, jobs []Job, opts ...Option) *RedisQueue {
	q := newRedisQueue(log, cfg, client, opts...)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

// RegisterJob must be called before Start.
func (q *RedisQueue) RegisterJob(j Job) {
	if _, dup := q.jobs[j.Type()]; dup {
		q.log.Warn("job already registered", logger.String("job", j.Name()), logger.String("type", j.Type()))
		return
	}
	q.jobs[j.Type()] = j
}

// PublishMessage stores payload as JSON on the pending list.
func (q *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue encode %s: %w", msgType, err)
	}
	raw, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   body,
		CreatedAt: q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue encode envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.key("messages"), raw).Err(); err != nil {
		return fmt.Errorf("queue lpush: %w", err)
	}
	return nil
}

// Start requeues anything a previous worker left in processing, then runs the
// workers and the retry poller. Run one worker process per prefix.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrQueueRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err := q.client.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		cancel()
		return fmt.Errorf("queue redis ping: %w", err)
	}

	if n := q.recover(ctx); n > 0 {
		q.log.Warn("requeued unfinished messages", logger.Int("count", n))
	}

	q.running = true
	q.cancel = cancel
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.wg.Add(1)
	go q.pollRetries(ctx)

	q.log.Info("queue workers started",
		logger.String("prefix", q.prefix),
		logger.Int("workers", q.cfg.Workers),
		logger.Int("jobs", len(q.jobs)))
	return nil
}

// Stop waits for in-flight jobs. A job still running at the deadline stays in
// processing and is requeued by the next Start.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("queue workers stopped", logger.String("prefix", q.prefix))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

func (q *RedisQueue) recover(ctx context.Context) int {
	n := 0
	for {
		err := q.client.LMove(ctx, q.key("processing"), q.key("messages"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n
		}
		if err != nil {
			q.log.Error("requeue processing failed", logger.Error(err))
			return n
		}
		n++
	}
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		raw, err := q.client.BLMove(ctx, q.key("messages"), q.key("processing"), "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error("queue claim failed", logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		q.handle(ctx, raw)
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.log.Error("queue message undecodable, dead-lettering", logger.Error(err))
		q.finish(raw, q.client.LPush(context.Background(), q.key("dlq"), raw).Err())
		return
	}

	job, ok := q.jobs[msg.Type]
	if !ok {
		q.fail(raw, msg, fmt.Errorf("no job for type %q", msg.Type), false)
		return
	}

	start := q.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		q.finish(raw, nil)
		return
	}
	if ctx.Err() != nil {
		// shutting down: leave it in processing for the next Start
		return
	}
	q.log.Warn("queue job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Duration("elapsed", q.now().Sub(start)),
		logger.Error(err))
	q.fail(raw, msg, err, true)
}

// fail schedules a retry, or dead-letters the message once its retries are
// used up or when retrying cannot help.
func (q *RedisQueue) fail(raw string, msg Message, cause error, retryable bool) {
	msg.Attempts++
	msg.LastError = cause.Error()
	next, err := json.Marshal(msg)
	if err != nil {
		q.log.Error("queue encode retry", logger.Error(err))
		return
	}

	ctx := context.Background()
	if retryable && msg.Attempts <= q.cfg.RetryLimit {
		due := q.now().Add(q.retryDelay(msg.Attempts))
		err = q.client.ZAdd(ctx, q.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: next}).Err()
		q.finish(raw, err)
		return
	}

	q.log.Error("queue message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Error(cause))
	q.finish(raw, q.client.LPush(ctx, q.key("dlq"), next).Err())
}

// finish drops the claimed copy once its successor is stored.
func (q *RedisQueue) finish(raw string, storeErr error) {
	if storeErr != nil {
		q.log.Error("queue store failed, message stays in processing", logger.Error(storeErr))
		return
	}
	if err := q.client.LRem(context.Background(), q.key("processing"), 1, raw).Err(); err != nil {
		q.log.Error("queue ack failed", logger.Error(err))
	}
}

func (q *RedisQueue) retryDelay(attempt int) time.Duration {
	b := backoff.Backoff{Min: q.cfg.RetryDelay, Max: q.cfg.MaxRetryDelay, Factor: 2}
	return b.ForAttempt(float64(attempt - 1))
}

func (q *RedisQueue) pollRetries(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := strconv.FormatInt(q.now().UnixMilli(), 10)
			err := promote.Run(ctx, q.client, []string{q.key("retry"), q.key("messages")}, now, 100).Err()
			if err != nil && ctx.Err() == nil {
				q.log.Error("queue retry promotion failed", logger.Error(err))
			}
		}
	}
}

func (q *RedisQueue) key(name string) string {
	return q.prefix + ":" + name
}
