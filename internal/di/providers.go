package di

import (
	"context"
	"fmt"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/internal/handler/api"
	"FuturesPilot/internal/handler/ws"
	mid "FuturesPilot/internal/middleware"
	internalrepo "FuturesPilot/internal/repository"
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
	pkgch "FuturesPilot/pkg/clickhouse"
	"FuturesPilot/pkg/config"
	xhttp "FuturesPilot/pkg/http"
	pkgkafka "FuturesPilot/pkg/kafka"
	"FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/metrics"
	"FuturesPilot/pkg/queue"
	"FuturesPilot/pkg/server"
)

// ProvideLogger builds the application logger. With logger.collect set, warn
// and error logs are also aggregated and shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collect && producer != nil {
		l.AddCollector(logger.CollectorConfig{
			Interval:  cfg.Logger.CollectInterval,
			Threshold: cfg.Logger.CollectThreshold,
			Topic:     cfg.Kafka.Topics.Logs,
			Publisher: producer,
			MinLevel:  cfg.Logger.CollectLevel,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the outcome consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, recorder *usecase.OutcomeRecorder, m repository.Metrics, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	handler := usecase.NewKafkaOutcomeHandler(cfg.Kafka.Topics.Outcomes, recorder, m)
	consumer.RegisterHandler(handler)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, handler.Hook(log)))
	return consumer, nil
}

// ProvideClickHouseClient connects to ClickHouse and creates the outcome table,
// or returns nil when the journal lives in memory.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxOpenConns/2, 0),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureSchema(ctx, internalrepo.OutcomeSchema(client.Table(outcomeTableName))...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

const outcomeTableName = "trade_outcomes"

// ProvideOutcomeJournal puts the retrying buffer in front of ClickHouse, or in
// front of an in-memory journal when ClickHouse is disabled.
func ProvideOutcomeJournal(cfg *config.Config, ch *pkgch.Client, m repository.Metrics, log *logger.Logger) *mid.JournalBuffer {
	var inner repository.OutcomeJournal
	if ch != nil {
		inner = internalrepo.NewClickHouseJournal(ch.DB(), ch.Table(outcomeTableName))
	} else {
		inner = internalrepo.NewMemoryJournal(cfg.ClickHouse.ReplayLimit)
	}
	return mid.NewJournalBuffer(inner, m, log.With("journal"),
		mid.WithBufferSize(cfg.Journal.BufferSize),
		mid.WithFlushInterval(cfg.Journal.FlushInterval),
		mid.WithRetry(cfg.Journal.MaxRetries, 0, 0),
	)
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/5, 0),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers a short-lived memory cache over Redis when available.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(256), cache.WithLayeredMemoryTTL(30*time.Second))
}

func ProvideStateStore(cfg *config.Config, c cache.Service) repository.StateStore {
	return internalrepo.NewCacheStateStore(c, cfg.Redis.StateTTL)
}

// ProvideEventPublisher publishes selector decisions to Kafka when enabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Events)
}

// ProvideExchange selects the venue. Paper mode still reads market data from
// Binance public endpoints.
func ProvideExchange(cfg *config.Config, log *logger.Logger) repository.Exchange {
	binance := exchange.NewBinance(exchange.BinanceConfig{
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		Testnet:           cfg.Exchange.Testnet,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		KlineTTL:          cfg.Exchange.KlineTTL,
	}, log.With("binance"))
	if cfg.Exchange.Mode == "binance" {
		return binance
	}

	pc := exchange.DefaultPaperConfig()
	pc.QuoteAsset = cfg.Risk.QuoteAsset
	pc.InitialBalance = cfg.Exchange.PaperBalance
	pc.FeeRate = cfg.Exchange.PaperFeeRate
	return exchange.NewPaper(pc, binance, log.With("paper"))
}

func ProvideRiskStore(cfg *config.Config, ex repository.Exchange, log *logger.Logger) *risk.Store {
	return risk.NewStore(risk.Config{
		QuoteAsset:         cfg.Risk.QuoteAsset,
		MaxPositionPct:     cfg.Risk.MaxPositionPct,
		OverleverageLevel:  cfg.Risk.OverleverageLevel,
		LiquidationWarnPct: cfg.Risk.LiquidationWarnPct,
		LiquidationHighPct: cfg.Risk.LiquidationHighPct,
	}, ex, log.With("risk"))
}

// defaultStrategies is registered when the config lists none.
var defaultStrategies = []models.StrategyID{
	models.StrategyTrend,
	models.StrategyBreakout,
	models.StrategyScalping,
	models.StrategyGridTrading,
	models.StrategyFundingArbitrage,
	models.StrategyLongShortSwitching,
	models.StrategyVolatilityBreakout,
}

func ProvideRegistry(cfg *config.Config, store *risk.Store) *strategy.Registry {
	defs := make([]strategy.Definition, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		defs = append(defs, strategy.Definition{ID: models.StrategyID(s.ID), Symbol: s.Symbol})
	}
	if len(defs) == 0 {
		for _, id := range defaultStrategies {
			defs = append(defs, strategy.Definition{ID: id, Symbol: cfg.Market.Symbol})
		}
	}
	return strategy.NewRegistry(store, defs...)
}

func ProvideTracker() *performance.Tracker {
	return performance.NewTracker()
}

func ProvideRecommender(cfg *config.Config, tracker *performance.Tracker) *recommend.Recommender {
	return recommend.NewRecommender(tracker, recommend.WithHistoryLimit(cfg.Selector.HistoryLimit))
}

func ProvideClassifier(cfg *config.Config) *analytics.Classifier {
	cc := cfg.Classifier
	return analytics.NewClassifier(analytics.ClassifierConfig{
		MinBars:             cc.MinBars,
		ADXTrending:         cc.ADXTrending,
		ADXStrong:           cc.ADXStrong,
		ADXModerate:         cc.ADXModerate,
		ADXWeak:             cc.ADXWeak,
		HighVolatilityPct:   cc.HighVolatilityPct,
		LowVolatilityPct:    cc.LowVolatilityPct,
		VolChangePct:        cc.VolChangePct,
		RSIOverbought:       cc.RSIOverbought,
		RSIOversold:         cc.RSIOversold,
		Lookback:            cc.Lookback,
		ConsolidationRange:  cc.ConsolidationRange,
		ConsolidationATRPct: cc.ConsolidationATRPct,
	})
}

func ProvideSelector(
	cfg *config.Config,
	classifier *analytics.Classifier,
	rec *recommend.Recommender,
	registry *strategy.Registry,
	tracker *performance.Tracker,
	log *logger.Logger,
) *selector.Selector {
	return selector.New(selector.Config{
		AutoSwitch:           cfg.Selector.AutoSwitch,
		MinTrades:            cfg.Selector.MinTrades,
		MinInterval:          cfg.Selector.MinInterval,
		ConfidenceThreshold:  cfg.Selector.ConfidenceThreshold,
		ImprovementThreshold: cfg.Selector.ImprovementThreshold,
		LossStreakOverride:   cfg.Selector.LossStreakOverride,
		HistoryLimit:         cfg.Selector.HistoryLimit,
	}, classifier, rec, registry, tracker, log.With("selector"))
}

// ProvideHub creates the alert stream, or nil when the websocket is disabled.
func ProvideHub(cfg *config.Config, log *logger.Logger) *ws.Hub {
	if !cfg.Notify.WebSocket.Enabled {
		return nil
	}
	return ws.NewHub(log.With("ws"), cfg.Server.CORSOrigins)
}

// Alerting is the notifier handed to the monitor plus the queue that drains
// the outbox, when there is one.
type Alerting struct {
	Notifier *notify.Fanout
	Outbox   *queue.RedisQueue
}

// ProvideAlerting assembles the notification sinks. Telegram goes through the
// Redis outbox when enabled so a slow bot API never holds up a monitor loop.
func ProvideAlerting(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	hub *ws.Hub,
	log *logger.Logger,
) (*Alerting, error) {
	a := &Alerting{Notifier: notify.NewFanout()}

	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		minSeverity := models.AlertSeverity(cfg.Notify.Telegram.MinSeverity)
		if cfg.Notify.Outbox.Enabled && rc != nil {
			a.Outbox = queue.NewRedisConsumer(log.With("outbox"), queue.Config{
				Workers:    cfg.Notify.Outbox.Workers,
				RetryLimit: cfg.Notify.Outbox.RetryLimit,
				RetryDelay: cfg.Notify.Outbox.RetryDelay,
			}, rc.Client(), []queue.Job{notify.NewDispatchJob(tg)}, queue.WithKeyPrefix(cfg.Redis.Prefix+":outbox"))
			a.Notifier.Add("outbox", notify.NewOutbox(a.Outbox), minSeverity)
		} else {
			a.Notifier.Add("telegram", tg, minSeverity)
		}
	}
	if cfg.Notify.Kafka.Enabled && producer != nil {
		a.Notifier.Add("kafka", notify.NewKafka(producer, cfg.Kafka.Topics.Alerts), models.SeverityInfo)
	}
	if hub != nil {
		a.Notifier.Add("websocket", hub, models.SeverityInfo)
	}
	log.Info("alert sinks configured", logger.Int("sinks", a.Notifier.Len()))
	return a, nil
}

func ProvideMonitor(cfg *config.Config, store *risk.Store, m repository.Metrics, alerting *Alerting, log *logger.Logger) *monitor.Supervisor {
	mc := cfg.Monitor
	return monitor.New(monitor.Config{
		PositionInterval:    mc.PositionInterval,
		RiskInterval:        mc.RiskInterval,
		FundingInterval:     mc.FundingInterval,
		PerformanceInterval: mc.PerformanceInterval,
		AlertSweepInterval:  mc.AlertSweepInterval,
		AlertCooldown:       mc.AlertCooldown,
		MarginRatioLimit:    mc.MarginRatioLimit,
		PositionLossPct:     mc.PositionLossPct,
		MarginUsagePct:      mc.MarginUsagePct,
		MaxPositions:        mc.MaxPositions,
		FundingRateLimit:    mc.FundingRateLimit,
		DailyLossLimit:      mc.DailyLossLimit,
		StartingCapital:     mc.StartingCapital,
		LowWinRate:          mc.LowWinRate,
		WinRateWindow:       mc.WinRateWindow,
		HistorySize:         mc.HistorySize,
		FundingWatchlist:    mc.FundingWatchlist,
	}, store, m, alerting.Notifier, log.With("monitor"))
}

func ProvideOutcomeRecorder(
	registry *strategy.Registry,
	tracker *performance.Tracker,
	sel *selector.Selector,
	rec *recommend.Recommender,
	journal *mid.JournalBuffer,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.OutcomeRecorder {
	return usecase.NewOutcomeRecorder(registry, tracker, sel, rec, journal, m, log.With("outcomes"))
}

func ProvideSelectionRunner(
	cfg *config.Config,
	ex repository.Exchange,
	sel *selector.Selector,
	registry *strategy.Registry,
	pub repository.EventPublisher,
	state repository.StateStore,
	mon *monitor.Supervisor,
	c cache.Service,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.SelectionRunner {
	var opts []usecase.RunnerOption
	if cfg.Redis.Enabled {
		opts = append(opts, usecase.WithRoundLock(c))
	}
	return usecase.NewSelectionRunner(usecase.RunnerConfig{
		Symbol:    cfg.Market.Symbol,
		Timeframe: repository.NormalizeTimeframe(cfg.Market.Timeframe),
		Bars:      cfg.Market.Bars,
		Interval:  cfg.Selector.EvaluateInterval,
	}, ex, sel, registry, pub, state, mon, m, log.With("runner"), opts...)
}

func ProvideHTTPHandler(log *logger.Logger, d api.Deps) *api.Handler {
	return api.NewHandler(log.With("api"), d)
}

func ProvideHTTPServer(cfg *config.Config, h *api.Handler, log *logger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(log.With("http")),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, xhttp.WithCORSOrigins(cfg.Server.CORSOrigins))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp collects everything with a lifecycle.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	journal *mid.JournalBuffer,
	recorder *usecase.OutcomeRecorder,
	mon *monitor.Supervisor,
	runner *usecase.SelectionRunner,
	alerting *Alerting,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	pub repository.EventPublisher,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	return server.New(server.Components{
		Config:     cfg,
		Logger:     log,
		HTTP:       httpServer,
		Hub:        hub,
		Journal:    journal,
		Outcomes:   recorder,
		Monitor:    mon,
		Runner:     runner,
		Outbox:     alerting.Outbox,
		Consumer:   consumer,
		Producer:   producer,
		Publisher:  pub,
		ClickHouse: ch,
		Cache:      c,
	})
}
