package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
)

// OutcomeSchema creates the outcome table. Rows are deduplicated by id on merge.
func OutcomeSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id          String,
    strategy_id LowCardinality(String),
    symbol      LowCardinality(String),
    pnl         Float64,
    pnl_pct     Float64,
    duration_ms Int64,
    regime      LowCardinality(String),
    closed_at   DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(closed_at)
ORDER BY (strategy_id, closed_at, id)`, table)}
}

// ClickHouseJournal implements OutcomeJournal for ClickHouse.
type ClickHouseJournal struct {
	db    *sql.DB
	table string
}

var _ repository.OutcomeJournal = (*ClickHouseJournal)(nil)

// NewClickHouseJournal creates the outcome journal.
func NewClickHouseJournal(db *sql.DB, table string) *ClickHouseJournal {
	if table == "" {
		table = "trade_outcomes"
	}
	return &ClickHouseJournal{db: db, table: table}
}

func (s *ClickHouseJournal) Save(ctx context.Context, o models.TradeOutcome) error {
	return s.SaveBatch(ctx, []models.TradeOutcome{o})
}

// SaveBatch inserts outcomes with one multi-row VALUES statement per chunk.
func (s *ClickHouseJournal) SaveBatch(ctx context.Context, outcomes []models.TradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(outcomes); start += chunkSize {
		end := start + chunkSize
		if end > len(outcomes) {
			end = len(outcomes)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, o := range outcomes[start:end] {
			if o.StrategyID == "" {
				continue
			}
			if o.ID == "" {
				o.ID = uuid.NewString()
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				o.ID,
				string(o.StrategyID),
				o.Symbol,
				o.PnL,
				o.PnLPct,
				o.Duration.Milliseconds(),
				string(o.Regime),
				o.ClosedAt.UTC(),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (id, strategy_id, symbol, pnl, pnl_pct, duration_ms, regime, closed_at) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert outcomes: %w", err)
		}
	}
	return nil
}

// List returns the most recent outcomes closed at or after since, oldest first,
// so that replaying them rebuilds streak counters in order.
func (s *ClickHouseJournal) List(ctx context.Context, since time.Time, limit int) ([]models.TradeOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := fmt.Sprintf(`SELECT id, strategy_id, symbol, pnl, pnl_pct, duration_ms, regime, closed_at FROM (
    SELECT id, strategy_id, symbol, pnl, pnl_pct, duration_ms, regime, closed_at
    FROM %s FINAL
    WHERE closed_at >= ?
    ORDER BY closed_at DESC
    LIMIT ?
) ORDER BY closed_at ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, q, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.TradeOutcome
	for rows.Next() {
		var (
			o          models.TradeOutcome
			strategy   string
			regime     string
			durationMs int64
		)
		if err := rows.Scan(&o.ID, &strategy, &o.Symbol, &o.PnL, &o.PnLPct, &durationMs, &regime, &o.ClosedAt); err != nil {
			return nil, err
		}
		o.StrategyID = models.StrategyID(strategy)
		o.Regime = models.MarketRegime(regime)
		o.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *ClickHouseJournal) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
