package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FuturesPilot/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	positionSize     *prometheus.GaugeVec
	positionNotional *prometheus.GaugeVec
	positionPnL      *prometheus.GaugeVec
	positionLeverage *prometheus.GaugeVec

	marginUsage     prometheus.Gauge
	marginLevel     prometheus.Gauge
	currentLeverage prometheus.Gauge
	totalNotional   prometheus.Gauge
	positionsCount  prometheus.Gauge
	riskDegraded    prometheus.Gauge

	fundingRate *prometheus.GaugeVec

	totalPnL prometheus.Gauge
	dailyPnL prometheus.Gauge
	winRate  prometheus.Gauge

	alertsTotal     *prometheus.CounterVec
	switchesTotal   *prometheus.CounterVec
	strategyActive  *prometheus.GaugeVec
	recommendations *prometheus.CounterVec
	confidence      prometheus.Gauge
	outcomesTotal   *prometheus.CounterVec
	outcomePnL      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default Prometheus registry.
func New() *Recorder { return NewWithRegisterer(prometheus.DefaultRegisterer) }

func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Name: "futurespilot_" + name, Help: help})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Name: "futurespilot_" + name, Help: help}, labels)
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Name: "futurespilot_" + name, Help: help}, labels)
	}

	return &Recorder{
		positionSize:     gaugeVec("position_size", "Absolute contracts per position", "symbol", "side"),
		positionNotional: gaugeVec("position_notional", "Position notional in quote currency", "symbol", "side"),
		positionPnL:      gaugeVec("position_unrealized_pnl", "Unrealized pnl per position", "symbol", "side"),
		positionLeverage: gaugeVec("position_leverage", "Configured leverage per position", "symbol"),

		marginUsage:     gauge("margin_usage_percent", "Used margin as a percent of total margin"),
		marginLevel:     gauge("margin_level_percent", "Total margin over used margin in percent"),
		currentLeverage: gauge("account_leverage", "Total notional over total margin"),
		totalNotional:   gauge("total_notional", "Sum of open position notionals"),
		positionsCount:  gauge("positions_open", "Number of open positions"),
		riskDegraded:    gauge("risk_degraded", "1 when risk metrics fell back to safe defaults"),

		fundingRate: gaugeVec("funding_rate", "Last funding rate per symbol", "symbol"),

		totalPnL: gauge("pnl_total", "Total unrealized pnl"),
		dailyPnL: gauge("pnl_daily", "Pnl since the daily baseline"),
		winRate:  gauge("win_rate", "Share of recent positive performance periods"),

		alertsTotal:     counterVec("alerts_total", "Alerts dispatched", "kind", "severity"),
		switchesTotal:   counterVec("strategy_switches_total", "Strategy switches", "from", "to", "manual"),
		strategyActive:  gaugeVec("strategy_active", "1 for the active strategy", "strategy"),
		recommendations: counterVec("recommendations_total", "Recommendations produced", "strategy", "regime", "confidence"),
		confidence:      gauge("recommendation_confidence", "Confidence of the latest recommendation"),
		outcomesTotal:   counterVec("trade_outcomes_total", "Closed trades recorded", "strategy", "result"),
		outcomePnL:      gaugeVec("trade_outcome_pnl", "Cumulative realized pnl", "strategy"),

		errorsTotal: counterVec("errors_total", "Total number of errors encountered", "type"),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "futurespilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordPosition(p models.Position) {
	side := string(p.Side)
	r.positionSize.WithLabelValues(p.Symbol, side).Set(p.Size())
	r.positionNotional.WithLabelValues(p.Symbol, side).Set(p.Notional())
	r.positionPnL.WithLabelValues(p.Symbol, side).Set(p.UnrealizedPnL)
	r.positionLeverage.WithLabelValues(p.Symbol).Set(float64(p.Leverage))
}

// ResetPositions clears per-position series so closed positions stop reporting.
func (r *Recorder) ResetPositions() {
	r.positionSize.Reset()
	r.positionNotional.Reset()
	r.positionPnL.Reset()
	r.positionLeverage.Reset()
}

func (r *Recorder) RecordRisk(m models.RiskMetrics) {
	r.marginUsage.Set(m.MarginUsagePct)
	r.marginLevel.Set(m.MarginLevel)
	r.currentLeverage.Set(m.CurrentLeverage)
	r.totalNotional.Set(m.TotalNotional)
	r.positionsCount.Set(float64(m.PositionsCount))
	if m.Degraded {
		r.riskDegraded.Set(1)
	} else {
		r.riskDegraded.Set(0)
	}
}

func (r *Recorder) RecordFundingRate(symbol string, rate float64) {
	r.fundingRate.WithLabelValues(symbol).Set(rate)
}

func (r *Recorder) RecordPerformance(s models.PerformanceSnapshot) {
	r.totalPnL.Set(s.TotalPnL)
	r.dailyPnL.Set(s.DailyPnL)
	r.winRate.Set(s.WinRate)
}

func (r *Recorder) RecordAlert(kind string, severity models.AlertSeverity) {
	r.alertsTotal.WithLabelValues(kind, string(severity)).Inc()
}

func (r *Recorder) RecordSwitch(from, to models.StrategyID, manual bool) {
	m := "false"
	if manual {
		m = "true"
	}
	r.switchesTotal.WithLabelValues(string(from), string(to), m).Inc()
	if from != "" {
		r.strategyActive.WithLabelValues(string(from)).Set(0)
	}
	r.strategyActive.WithLabelValues(string(to)).Set(1)
}

func (r *Recorder) RecordRecommendation(rec models.Recommendation) {
	r.recommendations.WithLabelValues(string(rec.Strategy), string(rec.Regime), string(rec.ConfidenceLevel)).Inc()
	r.confidence.Set(rec.Confidence)
}

func (r *Recorder) RecordOutcome(o models.TradeOutcome) {
	result := "loss"
	if o.IsWin() {
		result = "win"
	}
	r.outcomesTotal.WithLabelValues(string(o.StrategyID), result).Inc()
	r.outcomePnL.WithLabelValues(string(o.StrategyID)).Add(o.PnL)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
