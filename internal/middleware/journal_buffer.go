package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"FuturesPilot/internal/domain/models"
	domrepo "FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

// BatchSaver is implemented by journals that can insert many outcomes at once.
type BatchSaver interface {
	SaveBatch(ctx context.Context, outcomes []models.TradeOutcome) error
}

// JournalBuffer sits between the outcome recorder and the journal. Writes that
// fail downstream are kept in a bounded buffer and flushed in the background
// with exponential backoff, so a journal outage never blocks outcome handling.
type JournalBuffer struct {
	inner   domrepo.OutcomeJournal
	metrics domrepo.Metrics
	log     *logger.Logger

	bufCh         chan models.TradeOutcome
	flushInterval time.Duration
	maxRetries    int
	minBackoff    time.Duration
	maxBackoff    time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ domrepo.OutcomeJournal = (*JournalBuffer)(nil)

type BufferOption func(*JournalBuffer)

// WithBufferSize sets how many failed outcomes are held before new ones are dropped.
func WithBufferSize(n int) BufferOption {
	return func(b *JournalBuffer) {
		if n > 0 {
			b.bufCh = make(chan models.TradeOutcome, n)
		}
	}
}

func WithFlushInterval(d time.Duration) BufferOption {
	return func(b *JournalBuffer) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithRetry sets the attempts per flush and the backoff bounds between them.
func WithRetry(attempts int, min, max time.Duration) BufferOption {
	return func(b *JournalBuffer) {
		if attempts > 0 {
			b.maxRetries = attempts
		}
		if min > 0 {
			b.minBackoff = min
		}
		if max > 0 {
			b.maxBackoff = max
		}
	}
}

func NewJournalBuffer(inner domrepo.OutcomeJournal, metrics domrepo.Metrics, log *logger.Logger, opts ...BufferOption) *JournalBuffer {
	b := &JournalBuffer{
		inner:         inner,
		metrics:       metrics,
		log:           log,
		bufCh:         make(chan models.TradeOutcome, 1000),
		flushInterval: 5 * time.Second,
		maxRetries:    5,
		minBackoff:    50 * time.Millisecond,
		maxBackoff:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the background flusher.
func (b *JournalBuffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	stopCh, doneCh := b.stopCh, b.doneCh
	b.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(b.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Flush(ctx)
			}
		}
	}()
}

// Stop halts the flusher and makes one last attempt to drain the buffer.
func (b *JournalBuffer) Stop(ctx context.Context) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	close(b.stopCh)
	doneCh := b.doneCh
	b.mu.Unlock()

	<-doneCh
	b.Flush(ctx)
	if n := b.Pending(); n > 0 {
		b.log.Warn("journal buffer stopped with unsaved outcomes", logger.Int("pending", n))
	}
}

// Save writes through to the journal and buffers the outcome on failure. It
// only returns an error when the outcome is invalid or the buffer is full.
func (b *JournalBuffer) Save(ctx context.Context, o models.TradeOutcome) error {
	start := time.Now()
	if err := validateOutcome(o); err != nil {
		b.metrics.RecordError("journal_validate")
		return err
	}

	if err := b.inner.Save(ctx, o); err != nil {
		b.metrics.RecordError("journal_save")
		select {
		case b.bufCh <- o:
			b.log.Warn("journal write failed, outcome buffered",
				logger.String("strategy", string(o.StrategyID)),
				logger.Int("pending", len(b.bufCh)),
				logger.Error(err))
			return nil
		default:
			b.metrics.RecordError("journal_buffer_full")
			return fmt.Errorf("journal buffer full: %w", err)
		}
	}
	b.metrics.RecordLatency("journal_save", time.Since(start).Seconds())
	return nil
}

// Flush drains the buffer into the journal, retrying with backoff, and returns
// how many outcomes were written. The rest are put back for the next flush.
func (b *JournalBuffer) Flush(ctx context.Context) int {
	batch := b.drain()
	total := len(batch)
	if total == 0 {
		return 0
	}

	bo := &backoff.Backoff{Min: b.minBackoff, Max: b.maxBackoff, Factor: 2, Jitter: true}
	var err error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if batch, err = b.write(ctx, batch); err == nil {
			b.log.Info("journal buffer flushed", logger.Int("outcomes", total))
			return total
		}
		b.metrics.RecordError("journal_flush")
		if attempt == b.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			b.requeue(batch)
			return total - len(batch)
		case <-time.After(bo.Duration()):
		}
	}

	b.log.Error("journal flush failed, outcomes kept for next attempt",
		logger.Int("outcomes", len(batch)), logger.Error(err))
	b.requeue(batch)
	return total - len(batch)
}

// Pending returns how many outcomes are waiting in the buffer.
func (b *JournalBuffer) Pending() int { return len(b.bufCh) }

func (b *JournalBuffer) List(ctx context.Context, since time.Time, limit int) ([]models.TradeOutcome, error) {
	return b.inner.List(ctx, since, limit)
}

func (b *JournalBuffer) Health(ctx context.Context) error {
	return b.inner.Health(ctx)
}

// write returns the outcomes that were not saved.
func (b *JournalBuffer) write(ctx context.Context, batch []models.TradeOutcome) ([]models.TradeOutcome, error) {
	if bs, ok := b.inner.(BatchSaver); ok {
		if err := bs.SaveBatch(ctx, batch); err != nil {
			return batch, err
		}
		return nil, nil
	}
	for i, o := range batch {
		if err := b.inner.Save(ctx, o); err != nil {
			return batch[i:], err
		}
	}
	return nil, nil
}

func (b *JournalBuffer) drain() []models.TradeOutcome {
	var batch []models.TradeOutcome
	for {
		select {
		case o := <-b.bufCh:
			batch = append(batch, o)
		default:
			return batch
		}
	}
}

func (b *JournalBuffer) requeue(batch []models.TradeOutcome) {
	for _, o := range batch {
		select {
		case b.bufCh <- o:
		default:
			b.metrics.RecordError("journal_buffer_drop")
		}
	}
}

func validateOutcome(o models.TradeOutcome) error {
	if o.StrategyID == "" {
		return fmt.Errorf("outcome strategy empty")
	}
	if o.ClosedAt.IsZero() {
		return fmt.Errorf("outcome close time missing")
	}
	if o.Duration < 0 {
		return fmt.Errorf("outcome duration negative")
	}
	return nil
}
