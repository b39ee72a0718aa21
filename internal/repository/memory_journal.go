package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
)

// MemoryJournal keeps the most recent outcomes in process. Used when ClickHouse
// is disabled; nothing survives a restart.
type MemoryJournal struct {
	mu       sync.RWMutex
	capacity int
	rows     []models.TradeOutcome
}

var _ repository.OutcomeJournal = (*MemoryJournal)(nil)

func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryJournal{capacity: capacity}
}

func (j *MemoryJournal) Save(ctx context.Context, o models.TradeOutcome) error {
	return j.SaveBatch(ctx, []models.TradeOutcome{o})
}

func (j *MemoryJournal) SaveBatch(_ context.Context, outcomes []models.TradeOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, o := range outcomes {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		j.rows = append(j.rows, o)
	}
	if over := len(j.rows) - j.capacity; over > 0 {
		j.rows = append(j.rows[:0:0], j.rows[over:]...)
	}
	return nil
}

// List returns up to limit of the newest outcomes closed at or after since,
// oldest first.
func (j *MemoryJournal) List(_ context.Context, since time.Time, limit int) ([]models.TradeOutcome, error) {
	j.mu.RLock()
	out := make([]models.TradeOutcome, 0, len(j.rows))
	for _, o := range j.rows {
		if !o.ClosedAt.Before(since) {
			out = append(out, o)
		}
	}
	j.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool { return out[a].ClosedAt.Before(out[b].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (j *MemoryJournal) Health(context.Context) error { return nil }
