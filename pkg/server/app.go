package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/internal/handler/ws"
	mid "FuturesPilot/internal/middleware"
	"FuturesPilot/internal/services/monitor"
	"FuturesPilot/internal/usecase"
	"FuturesPilot/pkg/cache"
	pkgch "FuturesPilot/pkg/clickhouse"
	"FuturesPilot/pkg/config"
	xhttp "FuturesPilot/pkg/http"
	pkgkafka "FuturesPilot/pkg/kafka"
	applogger "FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/queue"
)

// Components are the parts of the application with a lifecycle. Optional
// infrastructure (Hub, Outbox, Consumer, Producer, ClickHouse) may be nil.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	HTTP       *xhttp.Server
	Hub        *ws.Hub
	Journal    *mid.JournalBuffer
	Outcomes   *usecase.OutcomeRecorder
	Monitor    *monitor.Supervisor
	Runner     *usecase.SelectionRunner
	Outbox     *queue.RedisQueue
	Consumer   *pkgkafka.Consumer
	Producer   *pkgkafka.Producer
	Publisher  repository.EventPublisher
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	log := c.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{c: c, log: log}
}

// Run starts every component and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	cancel()
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	cfg := a.c.Config

	if a.c.Hub != nil {
		go a.c.Hub.Run(ctx)
	}

	a.c.Journal.Start(ctx)
	replayCtx, cancelReplay := context.WithTimeout(ctx, 30*time.Second)
	n, err := a.c.Outcomes.Replay(replayCtx, cfg.ClickHouse.ReplayWindow, cfg.ClickHouse.ReplayLimit)
	cancelReplay()
	if err != nil {
		// a cold tracker is still usable
		a.log.Warn("outcome replay failed", applogger.Error(err))
	} else if n > 0 {
		a.log.Info("performance history restored", applogger.Int("outcomes", n))
	}

	if a.c.Outbox != nil {
		if err := a.c.Outbox.Start(); err != nil {
			return err
		}
		a.log.Info("alert outbox started")
	}

	if err := a.c.Monitor.Start(ctx); err != nil {
		return err
	}
	if err := a.c.Runner.Start(ctx); err != nil {
		return err
	}

	if a.c.Consumer != nil {
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", cfg.Kafka.Topics.Outcomes))
	}

	if err := a.c.HTTP.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	a.log.Info("futures pilot started",
		applogger.String("env", cfg.Environment),
		applogger.String("exchange", cfg.Exchange.Mode),
		applogger.String("symbol", cfg.Market.Symbol),
		applogger.Bool("auto_switch", cfg.Selector.AutoSwitch))
	return nil
}

// shutdown stops the components in reverse start order. Each step gets its own
// deadline so one hung dependency cannot starve the rest.
func (a *App) shutdown() {
	timeout := a.c.Config.Server.ShutdownTimeout
	step := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), timeout)
	}

	ctx, cancel := step()
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	cancel()

	if a.c.Consumer != nil {
		ctx, cancel := step()
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}

	a.c.Runner.Stop()
	a.c.Monitor.Stop()

	if a.c.Outbox != nil {
		ctx, cancel := step()
		if err := a.c.Outbox.Stop(ctx); err != nil {
			a.log.Warn("alert outbox stop error", applogger.Error(err))
		}
		cancel()
	}

	ctx, cancel = step()
	a.c.Journal.Stop(ctx)
	cancel()

	// flushes aggregated logs while the producer is still open
	a.log.RemoveCollector()

	if a.c.Publisher != nil {
		if err := a.c.Publisher.Close(); err != nil {
			a.log.Warn("event publisher close error", applogger.Error(err))
		}
	} else if a.c.Producer != nil {
		_ = a.c.Producer.Close()
	}

	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if closer, ok := a.c.Cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
