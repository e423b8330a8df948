//go:build wireinject
// +build wireinject

package di

import (
	"CoinPull/pkg/config"
	"CoinPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideDiagnostics,

		// Remote API and pair handling
		ProvideCoinGeckoClient,
		ProvideResolver,
		ProvideParser,
		ProvideCoordinator,

		// Optional stores
		ProvideSnapshotCache,
		ProvideSnapshotMirror,
		ProvideClickHouseClient,
		ProvideQuoteStore,
		ProvideKafkaProducer,
		ProvideKafkaPublisher,
		ProvideSinkPipeline,

		// Control topic
		ProvideKafkaConsumer,
		ProvideControlHandler,

		// HTTP
		ProvideRateLimiter,
		ProvidePairsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
