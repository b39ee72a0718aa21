package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	domrepo "FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/util"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// OutcomeSink receives every closed trade. Implemented by the performance tracker.
type OutcomeSink interface {
	RecordOutcome(o models.TradeOutcome)
}

// TradeCounter counts trades toward the selector's min-trades guard.
type TradeCounter interface {
	RecordTrade(id models.StrategyID)
}

// RegimeSource supplies the regime of the latest recommendation.
type RegimeSource interface {
	Latest() (models.Recommendation, bool)
}

// OutcomeRecorder is the single entry point for closed trades, whether they
// arrive over HTTP or Kafka.
type OutcomeRecorder struct {
	registry domrepo.StrategyRegistry
	sink     OutcomeSink
	counter  TradeCounter
	regimes  RegimeSource
	journal  domrepo.OutcomeJournal
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func NewOutcomeRecorder(
	registry domrepo.StrategyRegistry,
	sink OutcomeSink,
	counter TradeCounter,
	regimes RegimeSource,
	journal domrepo.OutcomeJournal,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *OutcomeRecorder {
	return &OutcomeRecorder{
		registry: registry,
		sink:     sink,
		counter:  counter,
		regimes:  regimes,
		journal:  journal,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// FromRequest builds an outcome, filling the id, the close time and the regime
// when the reporter left them out.
func (r *OutcomeRecorder) FromRequest(req models.OutcomeRequest) models.TradeOutcome {
	o := models.TradeOutcome{
		ID:         req.ID,
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		PnL:        req.PnL,
		PnLPct:     req.PnLPct,
		Duration:   time.Duration(req.DurationS) * time.Second,
		Regime:     req.Regime,
		ClosedAt:   util.ParseTimeDefault(req.ClosedAt, r.now().UTC()),
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Regime == "" {
		o.Regime = models.RegimeUnknown
		if rec, ok := r.regimes.Latest(); ok && rec.Regime != "" {
			o.Regime = rec.Regime
		}
	}
	return o
}

// Record feeds one outcome to the tracker, the selector and the journal. A
// journal failure is logged but does not undo the in-memory update.
func (r *OutcomeRecorder) Record(ctx context.Context, o models.TradeOutcome) error {
	if !r.registry.Has(o.StrategyID) {
		r.metrics.RecordError("outcome_unknown_strategy")
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, o.StrategyID)
	}

	r.sink.RecordOutcome(o)
	r.counter.RecordTrade(o.StrategyID)
	r.metrics.RecordOutcome(o)

	if err := r.journal.Save(ctx, o); err != nil {
		r.metrics.RecordError("outcome_journal")
		r.log.Error("outcome journal write failed",
			logger.String("id", o.ID),
			logger.String("strategy", string(o.StrategyID)),
			logger.Error(err))
	}

	r.log.Info("trade outcome recorded",
		logger.String("id", o.ID),
		logger.String("strategy", string(o.StrategyID)),
		logger.String("symbol", o.Symbol),
		logger.Float64("pnl", o.PnL),
		logger.String("regime", string(o.Regime)))
	return nil
}

// Replay loads journaled outcomes into the tracker only; trade counters belong
// to the current process and start at zero.
func (r *OutcomeRecorder) Replay(ctx context.Context, window time.Duration, limit int) (int, error) {
	since := r.now().Add(-window)
	outcomes, err := r.journal.List(ctx, since, limit)
	if err != nil {
		return 0, fmt.Errorf("list outcomes: %w", err)
	}
	n := 0
	for _, o := range outcomes {
		if o.StrategyID == "" {
			continue
		}
		r.sink.RecordOutcome(o)
		n++
	}
	r.log.Info("outcome journal replayed",
		logger.Int("outcomes", n),
		logger.Time("since", since))
	return n, nil
}

// List exposes the journal for the API.
func (r *OutcomeRecorder) List(ctx context.Context, since time.Time, limit int) ([]models.TradeOutcome, error) {
	return r.journal.List(ctx, since, limit)
}
