package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/pkg/cache"
)

func TestCacheStateStore(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	defer mc.Close()
	store := NewCacheStateStore(mc, time.Hour)

	if _, err := store.ActiveStrategy(ctx); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
	if _, err := store.LatestRecommendation(ctx); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}

	if err := store.SaveActiveStrategy(ctx, models.StrategyTrend); err != nil {
		t.Fatalf("save active: %v", err)
	}
	id, err := store.ActiveStrategy(ctx)
	if err != nil || id != models.StrategyTrend {
		t.Fatalf("expected trend, got %q err=%v", id, err)
	}

	rec := models.Recommendation{
		ID:              "r1",
		Strategy:        models.StrategyBreakout,
		Regime:          models.RegimeBreakout,
		Confidence:      0.82,
		ConfidenceLevel: models.ConfidenceHigh,
		Scores: map[models.StrategyID]models.StrategyScore{
			models.StrategyBreakout: {Total: 0.8},
		},
	}
	if err := store.SaveRecommendation(ctx, rec); err != nil {
		t.Fatalf("save recommendation: %v", err)
	}
	got, err := store.LatestRecommendation(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != "r1" || got.Strategy != models.StrategyBreakout || got.Scores[models.StrategyBreakout].Total != 0.8 {
		t.Fatalf("unexpected recommendation %+v", got)
	}
}

type publishCall struct {
	topic string
	key   string
	value interface{}
}

type fakeProducer struct {
	calls  []publishCall
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.calls = append(f.calls, publishCall{topic: topic, key: string(key), value: value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherEnvelopes(t *testing.T) {
	ctx := context.Background()
	prod := &fakeProducer{}
	pub := NewKafkaPublisher(prod, "")

	ev := models.SwitchEvent{ID: "s1", From: models.StrategyTrend, To: models.StrategyScalping, Timestamp: time.Unix(100, 0).UTC()}
	if err := pub.PublishSwitch(ctx, ev); err != nil {
		t.Fatalf("publish switch: %v", err)
	}
	if err := pub.PublishRecommendation(ctx, models.Recommendation{ID: "r1", Strategy: models.StrategyTrend}); err != nil {
		t.Fatalf("publish recommendation: %v", err)
	}

	if len(prod.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(prod.calls))
	}
	first := prod.calls[0]
	if first.topic != "futures.selector.events" || first.key != "scalping" {
		t.Fatalf("unexpected routing %+v", first)
	}
	raw, err := json.Marshal(first.value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var env struct {
		Type    string             `json:"type"`
		Payload models.SwitchEvent `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != EventSwitch || env.Payload.ID != "s1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if prod.calls[1].key != "trend" {
		t.Fatalf("recommendation should be keyed by strategy, got %q", prod.calls[1].key)
	}

	_ = pub.Close()
	if !prod.closed {
		t.Fatalf("close should reach the producer")
	}
}

func TestOutcomeSchemaNamesTable(t *testing.T) {
	stmts := OutcomeSchema("outcomes_test")
	if len(stmts) != 1 {
		t.Fatalf("expected one statement, got %d", len(stmts))
	}
	if want := "CREATE TABLE IF NOT EXISTS outcomes_test"; len(stmts[0]) < len(want) || stmts[0][:len(want)] != want {
		t.Fatalf("unexpected schema %q", stmts[0])
	}
}

func TestMemoryJournalKeepsNewest(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := j.Save(ctx, models.TradeOutcome{StrategyID: models.StrategyTrend, PnL: float64(i), ClosedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	rows, _ := j.List(ctx, time.Time{}, 0)
	if len(rows) != 3 || rows[0].PnL != 2 || rows[2].PnL != 4 {
		t.Fatalf("expected the 3 newest in order, got %+v", rows)
	}
	if rows[0].ID == "" {
		t.Fatalf("missing id")
	}

	rows, _ = j.List(ctx, base.Add(3*time.Hour), 1)
	if len(rows) != 1 || rows[0].PnL != 4 {
		t.Fatalf("since and limit not applied: %+v", rows)
	}
}
