package repository

import (
	"context"
	"time"

	"FuturesPilot/internal/domain/models"
)

// Exchange is the narrow view of the derivatives venue used by the core.
// Every call may fail with a transient network or rate-limit error.
type Exchange interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetBalance(ctx context.Context) (map[string]models.Balance, error)
	GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.PriceBar, error)
	GetFundingRate(ctx context.Context, symbol string) (models.FundingRate, error)
	GetMaxLeverage(ctx context.Context, symbol string) (int, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode models.MarginMode) error
	CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	ClosePosition(ctx context.Context, symbol string) (models.Order, error)
}

// StrategyRegistry is the strategy-execution collaborator.
type StrategyRegistry interface {
	Available() []models.StrategyID
	Has(id models.StrategyID) bool
	Active() models.StrategyID
	SetActive(id models.StrategyID) error
	HasOpenPosition(id models.StrategyID) bool
}

// Notifier delivers alerts. Failures never affect trading logic.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// EventPublisher fans selector decisions out to downstream consumers.
type EventPublisher interface {
	PublishSwitch(ctx context.Context, ev models.SwitchEvent) error
	PublishRecommendation(ctx context.Context, rec models.Recommendation) error
	Close() error
}

// OutcomeJournal persists closed-trade outcomes.
type OutcomeJournal interface {
	Save(ctx context.Context, o models.TradeOutcome) error
	List(ctx context.Context, since time.Time, limit int) ([]models.TradeOutcome, error)
	Health(ctx context.Context) error
}

// StateStore keeps the latest decision state for restarts and other readers.
type StateStore interface {
	SaveRecommendation(ctx context.Context, rec models.Recommendation) error
	LatestRecommendation(ctx context.Context) (models.Recommendation, error)
	SaveActiveStrategy(ctx context.Context, id models.StrategyID) error
	ActiveStrategy(ctx context.Context) (models.StrategyID, error)
}

// Metrics is the observability collaborator.
type Metrics interface {
	RecordPosition(p models.Position)
	ResetPositions()
	RecordRisk(m models.RiskMetrics)
	RecordFundingRate(symbol string, rate float64)
	RecordPerformance(s models.PerformanceSnapshot)
	RecordAlert(kind string, severity models.AlertSeverity)
	RecordSwitch(from, to models.StrategyID, manual bool)
	RecordRecommendation(rec models.Recommendation)
	RecordOutcome(o models.TradeOutcome)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
