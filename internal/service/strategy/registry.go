package strategy

import (
	"fmt"
	"sync"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
)

// PositionLookup reports the open position of a symbol.
type PositionLookup interface {
	Position(symbol string) (models.Position, bool)
}

// Definition binds a strategy to the symbol it trades.
type Definition struct {
	ID     models.StrategyID
	Symbol string
}

// Registry is an in-memory strategy registry. Registration order is kept and
// used as the candidate order for recommendations.
type Registry struct {
	mu        sync.RWMutex
	order     []models.StrategyID
	defs      map[models.StrategyID]Definition
	active    models.StrategyID
	positions PositionLookup
}

func NewRegistry(positions PositionLookup, defs ...Definition) *Registry {
	r := &Registry{
		defs:      make(map[models.StrategyID]Definition, len(defs)),
		positions: positions,
	}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a strategy definition.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.defs[d.ID] = d
}

func (r *Registry) Available() []models.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.StrategyID, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Has(id models.StrategyID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[id]
	return ok
}

func (r *Registry) Active() models.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registry) SetActive(id models.StrategyID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return fmt.Errorf("strategy %q is not registered", id)
	}
	r.active = id
	return nil
}

// HasOpenPosition reports whether the strategy's symbol holds a position.
func (r *Registry) HasOpenPosition(id models.StrategyID) bool {
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok || r.positions == nil || def.Symbol == "" {
		return false
	}
	_, open := r.positions.Position(def.Symbol)
	return open
}

var _ repository.StrategyRegistry = (*Registry)(nil)
