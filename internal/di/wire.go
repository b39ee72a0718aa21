//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FuturesPilot/internal/handler/api"
	"FuturesPilot/pkg/config"
	"FuturesPilot/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideOutcomeJournal,
		ProvideStateStore,
		ProvideEventPublisher,
		ProvideExchange,

		// Core services
		ProvideRiskStore,
		ProvideRegistry,
		ProvideTracker,
		ProvideRecommender,
		ProvideClassifier,
		ProvideSelector,
		ProvideHub,
		ProvideAlerting,
		ProvideMonitor,

		// Use cases
		ProvideOutcomeRecorder,
		ProvideSelectionRunner,
		ProvideKafkaConsumer,

		// HTTP
		wire.Struct(new(api.Deps), "*"),
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
