package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"starkit/adapters/jsonfile"
	mem "starkit/adapters/memory"
	redisAdapter "starkit/adapters/redis"
	sqlxAdapter "starkit/adapters/sqlx"
	"starkit/analytics"
	"starkit/api/httpapi"
	"starkit/catalog"
	"starkit/config"
	"starkit/core"
	"starkit/engine"
	"starkit/gamify"
	"starkit/integrations/webhook"
	"starkit/leaderboard"
	"starkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Hub       *realtime.Hub
	Analytics *analytics.Metrics
	Ledger    *engine.Ledger
	Handler   http.Handler
	Server    *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, func() { _ = logger.Sync() }, nil
}

func provideLocation(cfg *config.Config) (*time.Location, error) {
	return cfg.Gamification.Location()
}

func provideCatalog(cfg *config.Config) (core.Catalog, error) {
	if cfg.Gamification.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.Gamification.CatalogPath)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

// provideLeaderboard rebuilds the in-memory board from storage so rankings
// survive a restart with a persistent adapter.
func provideLeaderboard(ctx context.Context, storage engine.Storage, log *zap.Logger) (leaderboard.Board, error) {
	board := leaderboard.NewSkipList()
	lister, ok := storage.(engine.ChildLister)
	if !ok {
		return board, nil
	}
	n, err := leaderboard.Seed(ctx, board, lister)
	if err != nil {
		return nil, err
	}
	log.Info("leaderboard seeded", zap.Int("children", n))
	return board, nil
}

func provideAnalytics(loc *time.Location) *analytics.Metrics {
	return analytics.NewMetrics(loc)
}

func provideWebhooks(cfg *config.Config, log *zap.Logger) *webhook.Sink {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(cfg.Webhooks.Events))
	for _, e := range cfg.Webhooks.Events {
		types = append(types, core.EventType(e))
	}
	return webhook.New(cfg.Webhooks.Endpoints,
		webhook.WithTimeout(cfg.Webhooks.Timeout),
		webhook.WithEvents(types...),
		webhook.WithLogger(log),
	)
}

func provideStorage(cfg *config.Config, log *zap.Logger) (engine.Storage, func(), error) {
	return setupStorage(cfg, log)
}

func provideLedger(
	cfg *config.Config,
	log *zap.Logger,
	storage engine.Storage,
	cat core.Catalog,
	loc *time.Location,
	hub *realtime.Hub,
	board leaderboard.Board,
	metrics *analytics.Metrics,
	hooks *webhook.Sink,
) (*engine.Ledger, func()) {
	mode := engine.DispatchSync
	if cfg.Gamification.AsyncEvents {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithCatalog(cat),
		gamify.WithLocation(loc),
		gamify.WithLogger(log),
		gamify.WithDispatchMode(mode),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithAnalytics(metrics),
	}
	if hooks != nil {
		opts = append(opts, gamify.WithHandler(hooks.OnEvent))
	}
	ledger := gamify.New(opts...)
	return ledger, ledger.Close
}

func provideHandler(cfg *config.Config, ledger *engine.Ledger, hub *realtime.Hub, board leaderboard.Board, metrics *analytics.Metrics, log *zap.Logger) http.Handler {
	return httpapi.NewMux(ledger, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitIdle:    cfg.Security.RateLimit.CleanupInterval,
		Leaderboard:      board,
		Analytics:        metrics,
		Logger:           log,
	})
}

func provideServer(cfg *config.Config, handler http.Handler, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}
}

// setupLogging builds a zap logger from the logging section.
func setupLogging(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	out := cfg.Output
	if out == "" {
		out = "stdout"
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}
	if len(cfg.Attributes) > 0 {
		zc.InitialFields = make(map[string]interface{}, len(cfg.Attributes))
		for k, v := range cfg.Attributes {
			zc.InitialFields[k] = v
		}
	}
	return zc.Build()
}

// parseLogLevel converts a configured level name to a zap level.
func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// setupStorage creates the storage adapter named in configuration.
func setupStorage(cfg *config.Config, log *zap.Logger) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, log, "redis"), nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, log, "sql"), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

func closer(c io.Closer, log *zap.Logger, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("closing storage", zap.String("adapter", name), zap.Error(err))
		}
	}
}
