package di

import (
	"testing"

	"FuturesPilot/pkg/config"
	"FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/metrics"
)

func TestProvideClassifierUsesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Classifier.MinBars = 150
	cfg.Classifier.ADXStrong = 60
	cfg.Classifier.HighVolatilityPct = 3
	cfg.Classifier.RSIOverbought = 75
	cfg.Classifier.ConsolidationATRPct = 0.8

	got := ProvideClassifier(cfg).Config()
	if got.MinBars != 150 || got.ADXStrong != 60 || got.HighVolatilityPct != 3 {
		t.Fatalf("thresholds not mapped: %+v", got)
	}
	if got.RSIOverbought != 75 || got.ConsolidationATRPct != 0.8 {
		t.Fatalf("thresholds not mapped: %+v", got)
	}
}

func TestProvideMonitorUsesMarginRatioLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Monitor.MarginRatioLimit = 12
	cfg.Monitor.HistorySize = 10
	got := ProvideMonitor(cfg, nil, metrics.Nop{}, &Alerting{}, logger.Nop()).Config()
	if got.MarginRatioLimit != 12 {
		t.Fatalf("margin ratio limit not mapped: %+v", got)
	}
}
