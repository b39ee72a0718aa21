package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// Collect ships deduplicated warn and error logs to kafka.topics.logs.
		Collect          bool          `yaml:"collect"`
		CollectLevel     string        `yaml:"collect_level" default:"error" validate:"oneof=warn error"`
		CollectInterval  time.Duration `yaml:"collect_interval" default:"30s"`
		CollectThreshold int           `yaml:"collect_threshold" default:"100"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Exchange struct {
		Mode              string        `yaml:"mode" default:"paper" validate:"oneof=binance paper"`
		APIKey            string        `yaml:"api_key"`
		SecretKey         string        `yaml:"secret_key"`
		Testnet           bool          `yaml:"testnet"`
		RequestsPerSecond float64       `yaml:"requests_per_second" default:"10" validate:"gt=0"`
		Burst             float64       `yaml:"burst" default:"20" validate:"gte=1"`
		KlineTTL          time.Duration `yaml:"kline_ttl" default:"30s"`
		PaperBalance      float64       `yaml:"paper_balance" default:"10000" validate:"gte=0"`
		PaperFeeRate      float64       `yaml:"paper_fee_rate" default:"0.0004" validate:"gte=0"`
	} `yaml:"exchange"`
	Market struct {
		Symbol    string `yaml:"symbol" default:"BTCUSDT" validate:"required"`
		Timeframe string `yaml:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
		Bars      int    `yaml:"bars" default:"200" validate:"gte=100,lte=1500"`
	} `yaml:"market"`
	Classifier struct {
		MinBars             int     `yaml:"min_bars" default:"100" validate:"gte=50"`
		ADXTrending         float64 `yaml:"adx_trending" default:"25" validate:"gt=0"`
		ADXStrong           float64 `yaml:"adx_strong" default:"50" validate:"gt=0"`
		ADXModerate         float64 `yaml:"adx_moderate" default:"25" validate:"gt=0"`
		ADXWeak             float64 `yaml:"adx_weak" default:"15" validate:"gt=0"`
		HighVolatilityPct   float64 `yaml:"high_volatility_pct" default:"2.5" validate:"gt=0"`
		LowVolatilityPct    float64 `yaml:"low_volatility_pct" default:"0.5" validate:"gt=0"`
		VolChangePct        float64 `yaml:"vol_change_pct" default:"20" validate:"gt=0"`
		RSIOverbought       float64 `yaml:"rsi_overbought" default:"70" validate:"gt=0,lt=100"`
		RSIOversold         float64 `yaml:"rsi_oversold" default:"30" validate:"gt=0,lt=100"`
		Lookback            int     `yaml:"lookback" default:"20" validate:"gte=2"`
		ConsolidationRange  float64 `yaml:"consolidation_range" default:"5" validate:"gt=0"`
		ConsolidationATRPct float64 `yaml:"consolidation_atr_pct" default:"1" validate:"gt=0"`
	} `yaml:"classifier"`
	Strategies []Strategy `yaml:"strategies" validate:"dive"`
	Selector   struct {
		AutoSwitch           bool          `yaml:"auto_switch"`
		EvaluateInterval     time.Duration `yaml:"evaluate_interval" default:"15m"`
		MinTrades            int           `yaml:"min_trades" default:"5" validate:"gte=0"`
		MinInterval          time.Duration `yaml:"min_interval" default:"4h"`
		ConfidenceThreshold  float64       `yaml:"confidence_threshold" default:"0.7" validate:"gte=0,lte=1"`
		ImprovementThreshold float64       `yaml:"improvement_threshold" default:"0.15" validate:"gte=0,lte=1"`
		LossStreakOverride   int           `yaml:"loss_streak_override" default:"3" validate:"gte=1"`
		HistoryLimit         int           `yaml:"history_limit" default:"1000" validate:"gte=1"`
	} `yaml:"selector"`
	Risk struct {
		QuoteAsset         string  `yaml:"quote_asset" default:"USDT"`
		MaxPositionPct     float64 `yaml:"max_position_pct" default:"0.1" validate:"gt=0,lte=1"`
		OverleverageLevel  float64 `yaml:"overleverage_level" default:"150" validate:"gt=0"`
		LiquidationWarnPct float64 `yaml:"liquidation_warn_pct" default:"10" validate:"gt=0"`
		LiquidationHighPct float64 `yaml:"liquidation_high_pct" default:"5" validate:"gt=0"`
	} `yaml:"risk"`
	Monitor struct {
		PositionInterval    time.Duration `yaml:"position_interval" default:"5s"`
		RiskInterval        time.Duration `yaml:"risk_interval" default:"30s"`
		FundingInterval     time.Duration `yaml:"funding_interval" default:"1h"`
		PerformanceInterval time.Duration `yaml:"performance_interval" default:"5m"`
		AlertSweepInterval  time.Duration `yaml:"alert_sweep_interval" default:"1m"`
		AlertCooldown       time.Duration `yaml:"alert_cooldown" default:"15m"`
		MarginRatioLimit    float64       `yaml:"margin_ratio_limit" default:"0.5" validate:"gt=0"`
		PositionLossPct     float64       `yaml:"position_loss_pct" default:"-10"`
		MarginUsagePct      float64       `yaml:"margin_usage_pct" default:"80"`
		MaxPositions        int           `yaml:"max_positions" default:"10"`
		FundingRateLimit    float64       `yaml:"funding_rate_limit" default:"0.01"`
		DailyLossLimit      float64       `yaml:"daily_loss_limit" default:"0.05"`
		StartingCapital     float64       `yaml:"starting_capital" default:"10000" validate:"gt=0"`
		LowWinRate          float64       `yaml:"low_win_rate" default:"0.3"`
		WinRateWindow       int           `yaml:"win_rate_window" default:"12" validate:"gte=1"`
		HistorySize         int           `yaml:"history_size" default:"288" validate:"gte=1"`
		FundingWatchlist    []string      `yaml:"funding_watchlist"`
	} `yaml:"monitor"`
	Notify struct {
		Telegram struct {
			Enabled     bool   `yaml:"enabled"`
			Token       string `yaml:"token"`
			ChatID      int64  `yaml:"chat_id"`
			MinSeverity string `yaml:"min_severity" default:"WARNING" validate:"oneof=INFO WARNING CRITICAL"`
		} `yaml:"telegram"`
		Kafka struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"kafka"`
		Outbox struct {
			Enabled    bool          `yaml:"enabled"`
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit" default:"5"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"outbox"`
		WebSocket struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"websocket"`
	} `yaml:"notify"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Alerts   string `yaml:"alerts" default:"futures.alerts"`
			Events   string `yaml:"events" default:"futures.selector.events"`
			Outcomes string `yaml:"outcomes" default:"trade.outcomes"`
			Logs     string `yaml:"logs" default:"logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"futures-pilot"`
			StartOffset string        `yaml:"start_offset" default:"earliest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"2"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"trade.outcomes.dlq"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"futures_pilot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		ReplayWindow     time.Duration `yaml:"replay_window" default:"720h"`
		ReplayLimit      int           `yaml:"replay_limit" default:"10000"`
	} `yaml:"clickhouse"`
	Journal struct {
		BufferSize    int           `yaml:"buffer_size" default:"1000" validate:"gte=1"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"5s"`
		MaxRetries    int           `yaml:"max_retries" default:"5"`
	} `yaml:"journal"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size" default:"10"`
		Prefix   string        `yaml:"prefix" default:"futurespilot"`
		StateTTL time.Duration `yaml:"state_ttl" default:"168h"`
	} `yaml:"redis"`
}

// Strategy registers one executable strategy and the symbol it trades.
type Strategy struct {
	ID     string `yaml:"id" validate:"required"`
	Symbol string `yaml:"symbol" validate:"required"`
}

var validate = validator.New()

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	return load(path, false)
}

// LoadWithEnv loads .env if present, then the YAML file, then applies
// environment overrides. Secrets are expected to come from the environment.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(path, true)
}

func load(path string, env bool) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if env {
		c.applyEnv()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("EXCHANGE_MODE"); v != "" {
		c.Exchange.Mode = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv("BINANCE_TESTNET"); v != "" {
		c.Exchange.Testnet, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("SYMBOL"); v != "" {
		c.Market.Symbol = v
	}
}

// Validate runs the struct tags and the cross-field rules they cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Exchange.Mode == "binance" && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("exchange.api_key and exchange.secret_key are required in binance mode")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0) {
		return fmt.Errorf("notify.telegram requires token and chat_id")
	}
	if (c.Kafka.Enabled || c.Notify.Kafka.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Notify.Kafka.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("notify.kafka requires kafka.enabled")
	}
	if c.Logger.Collect && !c.Kafka.Enabled {
		return fmt.Errorf("logger.collect requires kafka.enabled")
	}
	if c.Notify.Outbox.Enabled && !c.Notify.Telegram.Enabled {
		return fmt.Errorf("notify.outbox only queues telegram delivery; enable notify.telegram")
	}
	if c.Notify.Outbox.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("notify.outbox requires redis.enabled")
	}
	cl := c.Classifier
	if cl.ADXWeak >= cl.ADXModerate || cl.ADXModerate >= cl.ADXStrong {
		return fmt.Errorf("classifier adx thresholds must satisfy adx_weak < adx_moderate < adx_strong")
	}
	if cl.LowVolatilityPct >= cl.HighVolatilityPct {
		return fmt.Errorf("classifier.low_volatility_pct must be below classifier.high_volatility_pct")
	}
	if cl.RSIOversold >= cl.RSIOverbought {
		return fmt.Errorf("classifier.rsi_oversold must be below classifier.rsi_overbought")
	}
	if cl.MinBars > c.Market.Bars {
		return fmt.Errorf("classifier.min_bars (%d) exceeds market.bars (%d)", cl.MinBars, c.Market.Bars)
	}
	if c.Risk.LiquidationHighPct >= c.Risk.LiquidationWarnPct {
		return fmt.Errorf("risk.liquidation_high_pct must be below risk.liquidation_warn_pct")
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("strategy %q registered twice", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
