package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/repository"
	"FuturesPilot/internal/service/exchange"
	"FuturesPilot/internal/service/notify"
	"FuturesPilot/internal/service/strategy"
	"FuturesPilot/internal/services/analytics"
	"FuturesPilot/internal/services/monitor"
	"FuturesPilot/internal/services/performance"
	"FuturesPilot/internal/services/recommend"
	"FuturesPilot/internal/services/risk"
	"FuturesPilot/internal/services/selector"
	"FuturesPilot/internal/usecase"
	"FuturesPilot/pkg/cache"
	"FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/metrics"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Rows  json.RawMessage `json:"rows"`
	Total int64           `json:"total"`
}

type memJournal struct{ saved []models.TradeOutcome }

func (j *memJournal) Save(_ context.Context, o models.TradeOutcome) error {
	j.saved = append(j.saved, o)
	return nil
}

func (j *memJournal) List(context.Context, time.Time, int) ([]models.TradeOutcome, error) {
	return j.saved, nil
}

func (j *memJournal) Health(context.Context) error { return nil }

type testServer struct {
	e     *echo.Echo
	paper *exchange.Paper
	store *risk.Store
	sel   *selector.Selector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()

	paper := exchange.NewPaper(exchange.DefaultPaperConfig(), nil, log)
	paper.SetMark("BTCUSDT", 100)
	store := risk.NewStore(risk.DefaultConfig(), paper, log)
	reg := strategy.NewRegistry(store,
		strategy.Definition{ID: models.StrategyTrend, Symbol: "BTCUSDT"},
		strategy.Definition{ID: models.StrategyScalping, Symbol: "ETHUSDT"},
	)
	tracker := performance.NewTracker()
	rec := recommend.NewRecommender(tracker)
	sel := selector.New(selector.DefaultConfig(), analytics.NewClassifier(analytics.DefaultClassifierConfig()), rec, reg, tracker, log)
	mon := monitor.New(monitor.DefaultConfig(), store, metrics.Nop{}, notify.NewFanout(), log)

	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	t.Cleanup(func() { _ = mc.Close() })
	state := repository.NewCacheStateStore(mc, time.Hour)

	recorder := usecase.NewOutcomeRecorder(reg, tracker, sel, rec, &memJournal{}, metrics.Nop{}, log)
	runner := usecase.NewSelectionRunner(usecase.RunnerConfig{Symbol: "BTCUSDT"}, paper, sel, reg,
		repository.NopPublisher{}, state, mon, metrics.Nop{}, log)

	h := NewHandler(log, Deps{
		Selector:    sel,
		Recommender: rec,
		Tracker:     tracker,
		Positions:   store,
		Monitor:     mon,
		Outcomes:    recorder,
		Runner:      runner,
		State:       state,
	})
	e := echo.New()
	h.RegisterRoutes(e)
	return &testServer{e: e, paper: paper, store: store, sel: sel}
}

func (s *testServer) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return env
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodPost, "/api/v1/positions", `{"symbol":"BTCUSDT","side":"LONG","size":1,"leverage":5}`)
	if env.Status != http.StatusOK {
		t.Fatalf("open: expected 200, got %d %s", env.Status, env.Data)
	}

	env = s.do(t, http.MethodGet, "/api/v1/positions", "")
	var list listData
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 1 {
		t.Fatalf("expected one position, got %d", list.Total)
	}

	env = s.do(t, http.MethodPost, "/api/v1/positions/btcusdt/stop-loss", `{"price":90}`)
	if env.Status != http.StatusOK {
		t.Fatalf("stop loss: expected 200, got %d %s", env.Status, env.Data)
	}

	env = s.do(t, http.MethodPost, "/api/v1/positions/BTCUSDT/close", `{}`)
	if env.Status != http.StatusOK {
		t.Fatalf("close: expected 200, got %d %s", env.Status, env.Data)
	}
	if n := len(s.store.Positions()); n != 0 {
		t.Fatalf("expected position closed, %d left", n)
	}

	env = s.do(t, http.MethodPost, "/api/v1/positions/BTCUSDT/close", `{}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("closing a missing position should be a 400 result, got %d", env.Status)
	}
}

func TestOpenPositionValidation(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodPost, "/api/v1/positions", `{"symbol":"BTCUSDT","side":"SIDEWAYS","size":1}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", env.Status)
	}
	env = s.do(t, http.MethodPost, "/api/v1/positions/BTCUSDT/leverage", `{"leverage":500}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected leverage bound failure, got %d", env.Status)
	}
}

func TestOverrideAndSwitches(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodPost, "/api/v1/selector/override", `{"strategy":"scalping"}`)
	if env.Status != http.StatusOK {
		t.Fatalf("override: expected 200, got %d %s", env.Status, env.Data)
	}
	var res overrideResponse
	_ = json.Unmarshal(env.Data, &res)
	if !res.Switched || res.Event == nil || res.Event.Reason != "manual override" || !res.Event.Manual {
		t.Fatalf("unexpected override response %+v", res)
	}

	env = s.do(t, http.MethodPost, "/api/v1/selector/override", `{"strategy":"scalping"}`)
	_ = json.Unmarshal(env.Data, &res)
	if res.Switched {
		t.Fatalf("overriding to the active strategy must not switch")
	}

	env = s.do(t, http.MethodPost, "/api/v1/selector/override", `{"strategy":"martingale"}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("unknown strategy should be rejected, got %d", env.Status)
	}

	env = s.do(t, http.MethodGet, "/api/v1/switches?limit=5", "")
	var list listData
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 1 {
		t.Fatalf("expected one switch event, got %d", list.Total)
	}

	env = s.do(t, http.MethodGet, "/api/v1/switches?limit=0", "")
	if env.Status != http.StatusOK {
		t.Fatalf("limit=0 falls back to the default, got %d", env.Status)
	}
	env = s.do(t, http.MethodGet, "/api/v1/switches?limit=1000", "")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("limit above 500 should be rejected, got %d", env.Status)
	}
}

func TestAutoSwitchToggle(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodPost, "/api/v1/selector/auto", `{"enabled":true}`)
	if env.Status != http.StatusOK || !s.sel.AutoSwitch() {
		t.Fatalf("auto switch should be enabled, status %d", env.Status)
	}
	s.do(t, http.MethodPost, "/api/v1/selector/auto", `{"enabled":false}`)
	if s.sel.AutoSwitch() {
		t.Fatalf("auto switch should be disabled")
	}
}

func TestOutcomesFeedPerformance(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodPost, "/api/v1/outcomes", `{"strategy_id":"trend","symbol":"BTCUSDT","pnl":25,"duration_s":3600,"regime":"TRENDING_UP"}`)
	if env.Status != http.StatusCreated {
		t.Fatalf("outcome: expected 201, got %d %s", env.Status, env.Data)
	}
	env = s.do(t, http.MethodPost, "/api/v1/outcomes", `{"strategy_id":"martingale","pnl":1}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("unknown strategy outcome should be 400, got %d", env.Status)
	}

	env = s.do(t, http.MethodGet, "/api/v1/performance/trend", "")
	if env.Status != http.StatusOK {
		t.Fatalf("performance: expected 200, got %d", env.Status)
	}
	var sp models.StrategyPerformance
	_ = json.Unmarshal(env.Data, &sp)
	if sp.Global.TotalTrades != 1 || sp.Global.TotalPnL != 25 {
		t.Fatalf("unexpected performance %+v", sp.Global)
	}
	if _, ok := sp.ByRegime[models.RegimeTrendingUp]; !ok {
		t.Fatalf("regime scope missing")
	}

	env = s.do(t, http.MethodGet, "/api/v1/performance/scalping", "")
	if env.Status != http.StatusNotFound {
		t.Fatalf("strategy without trades should be 404, got %d", env.Status)
	}

	env = s.do(t, http.MethodGet, "/api/v1/outcomes?limit=10", "")
	var list listData
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 1 {
		t.Fatalf("expected one journaled outcome, got %d", list.Total)
	}
}

func TestRecommendationBeforeFirstRound(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodGet, "/api/v1/recommendation", "")
	if env.Status != http.StatusNotFound {
		t.Fatalf("expected 404 before any evaluation, got %d", env.Status)
	}
	// the paper exchange has no market data source in tests
	env = s.do(t, http.MethodPost, "/api/v1/selector/evaluate", "")
	if env.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 without market data, got %d", env.Status)
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/healthz",
		"/api/v1/status",
		"/api/v1/selector/stats",
		"/api/v1/recommendations",
		"/api/v1/performance",
		"/api/v1/positions/summary",
		"/api/v1/risk",
		"/api/v1/risk/liquidation",
		"/api/v1/funding/BTCUSDT",
		"/api/v1/monitor/status",
		"/api/v1/monitor/performance",
		"/api/v1/monitor/history",
		"/api/v1/monitor/alerts",
	} {
		if env := s.do(t, http.MethodGet, path, ""); env.Status != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d %s", path, env.Status, env.Data)
		}
	}
}

func TestCloseAllReturnsEveryResult(t *testing.T) {
	s := newTestServer(t)
	s.paper.SetMark("ETHUSDT", 50)
	s.do(t, http.MethodPost, "/api/v1/positions", `{"symbol":"BTCUSDT","side":"LONG","size":1,"leverage":2}`)
	s.do(t, http.MethodPost, "/api/v1/positions", `{"symbol":"ETHUSDT","side":"SHORT","size":2,"leverage":2}`)

	env := s.do(t, http.MethodPost, "/api/v1/positions/close-all", "")
	var list listData
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 2 {
		t.Fatalf("expected 2 close results, got %d", list.Total)
	}
	if n := len(s.store.Positions()); n != 0 {
		t.Fatalf("expected all positions closed, %d left", n)
	}
}
