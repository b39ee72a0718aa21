package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Exchange.Mode != "paper" || c.Market.Timeframe != "1h" || c.Selector.MinInterval != 4*time.Hour {
		t.Fatalf("defaults not applied: %+v", c.Exchange)
	}
	if c.Monitor.AlertCooldown != 15*time.Minute || c.Monitor.HistorySize != 288 {
		t.Fatalf("monitor defaults not applied: %+v", c.Monitor)
	}
	if c.Classifier.MinBars != 100 || c.Classifier.ADXStrong != 50 || c.Classifier.HighVolatilityPct != 2.5 {
		t.Fatalf("classifier defaults not applied: %+v", c.Classifier)
	}
	if c.Monitor.MarginRatioLimit != 0.5 {
		t.Fatalf("margin ratio limit default: %v", c.Monitor.MarginRatioLimit)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	c, err := Load(writeConfig(t, `
environment: prod
selector:
  auto_switch: true
  confidence_threshold: 0.8
classifier:
  adx_trending: 30
strategies:
  - id: trend
    symbol: ETHUSDT
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Selector.AutoSwitch || c.Selector.ConfidenceThreshold != 0.8 {
		t.Fatalf("explicit values lost: %+v", c.Selector)
	}
	if c.Classifier.ADXTrending != 30 || c.Classifier.ADXWeak != 15 {
		t.Fatalf("classifier values: %+v", c.Classifier)
	}
	if len(c.Strategies) != 1 || c.Strategies[0].Symbol != "ETHUSDT" {
		t.Fatalf("strategies: %+v", c.Strategies)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"binance without keys":      "exchange:\n  mode: binance\n",
		"bad timeframe":             "market:\n  timeframe: 2h\n",
		"telegram without token":    "notify:\n  telegram:\n    enabled: true\n",
		"duplicate strategy":        "strategies:\n  - {id: trend, symbol: A}\n  - {id: trend, symbol: B}\n",
		"outbox without redis":      "notify:\n  outbox:\n    enabled: true\n",
		"log collect without kafka": "logger:\n  collect: true\n",
		"adx bands out of order":    "classifier:\n  adx_weak: 30\n",
		"rsi bands inverted":        "classifier:\n  rsi_oversold: 80\n",
		"min bars above fetch size": "classifier:\n  min_bars: 300\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_MODE", "binance")
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_SECRET_KEY", "s")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Exchange.Mode != "binance" || c.Exchange.APIKey != "k" {
		t.Fatalf("env not applied: %+v", c.Exchange)
	}
	if strings.Join(c.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Fatalf("brokers: %v", c.Kafka.Brokers)
	}
}
