package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/config"
	"github.com/mauv0809/splitadjust/internal/db"
	"github.com/mauv0809/splitadjust/internal/handlers"
	"github.com/mauv0809/splitadjust/internal/ingest"
	"github.com/mauv0809/splitadjust/internal/logging"
	"github.com/mauv0809/splitadjust/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists (local dev)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}

	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []adjust.Option{adjust.WithWorkers(cfg.Workers), adjust.WithLogger(logger)}
	if cfg.LegacyAnchor {
		opts = append(opts, adjust.WithLegacyAnchor())
	}
	adjuster := adjust.New(opts...)
	knowledgeDate := func() time.Time { return cfg.KnowledgeDate(time.Now()) }

	var repo *db.Repository
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, storage endpoints disabled")
	} else {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Warn("Could not run migrations", zap.Error(err))
		} else {
			logger.Info("Migrations completed")
		}

		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("Could not connect to database, continuing without it", zap.Error(err))
		} else {
			defer pool.Close()
			repo = db.NewRepository(pool)
			logger.Info("Connected to database")
		}
	}

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error == nil {
				logger.Info("request", fields...)
			} else {
				logger.Error("request", append(fields, zap.Error(v.Error))...)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := handlers.New()

	var store handlers.PriceStore
	if repo != nil {
		store = repo
	}
	adjustHandler := handlers.NewAdjustHandler(adjuster, store, m, logger, knowledgeDate)

	// Routes
	e.GET("/health", h.Health)
	e.GET("/", h.Index)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.POST("/adjust", adjustHandler.Adjust)

	if repo != nil {
		e.GET("/securities/:id/adjusted", adjustHandler.SecurityAdjusted)

		admin := e.Group("/admin")
		admin.POST("/adjust/run", adjustHandler.AdjustRun)

		var fetcher handlers.Fetcher
		if cfg.NasdaqAPIKey != "" {
			fetcher = ingest.NewClient(cfg.NasdaqAPIKey, ingest.WithClientLogger(logger))
			logger.Info("Ingest client initialized")
		} else {
			logger.Warn("NASDAQ_API_KEY not set, ingestion endpoints disabled")
		}

		ingestHandler := handlers.NewIngestHandler(fetcher, repo, cfg.PriceTable, cfg.SplitTable, logger)
		admin.GET("/ingest/status", ingestHandler.IngestStatus)
		if fetcher != nil {
			admin.POST("/ingest/prices", ingestHandler.IngestPrices)
			admin.POST("/ingest/splits", ingestHandler.IngestSplits)
			logger.Info("Ingestion endpoints registered")
		}
	}

	logger.Info("Starting server", zap.String("port", cfg.Port))
	if err := e.Start(":" + cfg.Port); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
