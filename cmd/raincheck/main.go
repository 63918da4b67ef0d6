package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/raincheck/internal/api/http"
	"github.com/i474232898/raincheck/internal/config"
	"github.com/i474232898/raincheck/internal/observability"
	"github.com/i474232898/raincheck/internal/scheduler"
	"github.com/i474232898/raincheck/internal/store"
	"github.com/i474232898/raincheck/internal/weather"
	"github.com/i474232898/raincheck/internal/weather/providers"
)

func main() {
	// Load configuration (also loads .env).
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subStore, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	pipeline, err := buildPipeline(cfg, clock, log, metrics)
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// Core service orchestrating store and pipeline.
	service := weather.NewService(subStore, pipeline, clock, cfg.RefreshConcurrency, log, metrics)

	// Scheduler that periodically refreshes stored forecasts.
	sched := scheduler.New(service, cfg.RefreshInterval, 0, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "raincheck",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          writeTimeout(cfg),
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		if p, ok := subStore.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":  "unavailable",
					"service": "raincheck",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "raincheck",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		log.Info("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}

// writeTimeout covers the slowest request: creating a subscription with
// the most events allowed, whose pipelines run RefreshConcurrency at a
// time with four stages each.
func writeTimeout(cfg *config.AppConfig) time.Duration {
	waves := (httpapi.MaxEventsPerRequest + cfg.RefreshConcurrency - 1) / cfg.RefreshConcurrency
	return time.Duration(waves)*pipelineStages*cfg.StageTimeout + 10*time.Second
}

const pipelineStages = 4

func openStore(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (weather.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		s, err := store.NewMongoStore(ctx, cfg.AtlasURI, cfg.DBName, cfg.MongoConnectTimeout, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Close(ctx); err != nil {
				log.Error("failed to disconnect from mongo", "error", err)
			}
		}
		return s, closeFn, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func buildPipeline(cfg *config.AppConfig, clock clockwork.Clock, log *slog.Logger, metrics *observability.Metrics) (*weather.Pipeline, error) {
	// Shared HTTP client for outbound provider calls.
	httpCfg := providers.HTTPClientConfig{
		Client:  &http.Client{Timeout: cfg.HTTPTimeout},
		Metrics: metrics,
	}

	var geocoder weather.Geocoder
	switch cfg.GeocoderProvider {
	case config.GeocoderHere:
		geocoder = providers.NewHereGeocoder(httpCfg, cfg.Credentials.HereAPIKey)
	default:
		geocoder = providers.NewGoogleGeocoder(httpCfg, cfg.Credentials.GoogleAPIKey)
	}
	cachedGeocoder, err := weather.NewCachedGeocoder(geocoder, cfg.GeocodeCacheSize, metrics)
	if err != nil {
		return nil, err
	}

	nws := providers.NewNWSClient(httpCfg, cfg.Credentials.NWSUserAgent)
	cachedGrids, err := weather.NewCachedGridResolver(nws, cfg.GridCacheSize, metrics)
	if err != nil {
		return nil, err
	}

	provs := weather.Providers{
		Geocoder: cachedGeocoder,
		Grids:    cachedGrids,
		Fetcher:  nws,
	}

	if cfg.SummariesEnabled() {
		summarizer, err := providers.NewOpenAISummarizer(httpCfg, providers.OpenAIConfig{
			APIKey:    cfg.Credentials.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.SummaryMaxTokens,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("openai summarizer: %w", err)
		}
		provs.Summarizer = summarizer
	} else {
		log.Info("OPENAI_API_KEY not set; forecasts will carry no summary")
	}

	return weather.NewPipeline(provs, weather.PipelineConfig{
		StageTimeout: cfg.StageTimeout,
		Retry: weather.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
	}, clock, log, metrics)
}
