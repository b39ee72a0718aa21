package strategy

import (
	"testing"

	"FuturesPilot/internal/domain/models"
)

type lookup map[string]models.Position

func (l lookup) Position(symbol string) (models.Position, bool) {
	p, ok := l[symbol]
	return p, ok
}

func TestRegistryOrderAndActive(t *testing.T) {
	r := NewRegistry(nil,
		Definition{ID: models.StrategyTrend, Symbol: "BTCUSDT"},
		Definition{ID: models.StrategyScalping, Symbol: "ETHUSDT"},
	)
	av := r.Available()
	if len(av) != 2 || av[0] != models.StrategyTrend {
		t.Fatalf("unexpected order: %v", av)
	}
	if err := r.SetActive(models.StrategyGridTrading); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	if err := r.SetActive(models.StrategyScalping); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if r.Active() != models.StrategyScalping {
		t.Fatalf("active not updated")
	}
}

func TestRegistryOpenPosition(t *testing.T) {
	r := NewRegistry(lookup{"BTCUSDT": {Symbol: "BTCUSDT", Contracts: 1}},
		Definition{ID: models.StrategyTrend, Symbol: "BTCUSDT"},
		Definition{ID: models.StrategyScalping, Symbol: "ETHUSDT"},
	)
	if !r.HasOpenPosition(models.StrategyTrend) {
		t.Fatalf("trend should hold a position")
	}
	if r.HasOpenPosition(models.StrategyScalping) {
		t.Fatalf("scalping should be flat")
	}
}
