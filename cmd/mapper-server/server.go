package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/mapper/internal/config"
	"github.com/ehr/mapper/internal/domain/audit"
	"github.com/ehr/mapper/internal/domain/gapfill"
	"github.com/ehr/mapper/internal/domain/mapping"
	"github.com/ehr/mapper/internal/domain/profile"
	"github.com/ehr/mapper/internal/domain/terminology"
	"github.com/ehr/mapper/internal/domain/transform"
	"github.com/ehr/mapper/internal/platform/db"
	"github.com/ehr/mapper/internal/platform/middleware"
)

const (
	uploadBodyLimit  = "4M"
	defaultBodyLimit = "1M"
)

// newOracle builds the gap-fill oracle named by ORACLE_PROVIDER. It returns
// a nil Oracle for "none".
func newOracle(cfg *config.Config, transforms []string) (gapfill.Oracle, error) {
	switch cfg.OracleProvider {
	case "", "none":
		return nil, nil
	case "openai":
		o, err := gapfill.NewOpenAIOracle(cfg.OracleEndpoint, cfg.OracleAPIKey, cfg.OracleModel, transforms)
		if err != nil {
			return nil, fmt.Errorf("openai oracle: %w", err)
		}
		return o, nil
	case "anthropic":
		o, err := gapfill.NewAnthropicOracle(cfg.OracleAPIKey, cfg.OracleEndpoint, cfg.OracleModel, transforms)
		if err != nil {
			return nil, fmt.Errorf("anthropic oracle: %w", err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.OracleProvider)
	}
}

func newSuggester(cfg *config.Config, transforms *transform.Registry, logger zerolog.Logger) (*gapfill.Client, error) {
	oracle, err := newOracle(cfg, transforms.Names())
	if err != nil {
		return nil, err
	}
	return gapfill.NewClient(oracle, logger,
		gapfill.WithTimeout(cfg.OracleTimeout()),
		gapfill.WithMaxSamples(cfg.OracleMaxSamples),
	), nil
}

func engineOptions(cfg *config.Config) mapping.Options {
	return mapping.Options{
		GapFillEnabled: cfg.GapFillEnabled,
		MinConfidence:  cfg.MinConfidence,
		ExcludedFields: mapset.NewSet(cfg.ExcludedFields...),
		MaxSamples:     cfg.OracleMaxSamples,
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stores are the durable or in-memory backends selected by DATABASE_URL.
type stores struct {
	pool         *pgxpool.Pool
	profiles     profile.Repository
	translations terminology.TranslationRepository
	auditSink    audit.Sink
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if !cfg.UsesDatabase() {
		logger.Warn().Msg("DATABASE_URL not set; profiles are kept in memory and audit records go to the log")
		return &stores{
			profiles:  profile.NewMemoryRepository(),
			auditSink: audit.NewLogSink(logger),
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	return &stores{
		pool:         pool,
		profiles:     profile.NewProfileRepoPG(pool),
		translations: terminology.NewTranslationRepoPG(pool),
		auditSink:    audit.NewPGSink(pool),
	}, nil
}

func newResolver(ctx context.Context, cfg *config.Config, st *stores, logger zerolog.Logger) *terminology.Resolver {
	opts := []terminology.ResolverOption{terminology.WithTimeout(cfg.TerminologyTimeout())}
	if st.translations != nil {
		opts = append(opts, terminology.WithRepository(st.translations))
	}
	if cfg.TerminologyURL != "" {
		opts = append(opts, terminology.WithTranslator(terminology.NewFHIRTranslator(cfg.TerminologyURL, nil)))
		logger.Info().Str("url", cfg.TerminologyURL).Msg("external terminology server configured")
	}
	resolver := terminology.NewResolver(terminology.DefaultConceptTable(), logger, opts...)

	n, err := resolver.Warm(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to warm terminology cache")
	} else if n > 0 {
		logger.Info().Int("translations", n).Msg("terminology cache warmed")
	}
	return resolver
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	// Profiles
	profileStore := profile.NewStore(st.profiles, cfg.CacheTTL(), logger)
	if cfg.ProfileDir != "" {
		n, err := profile.LoadDir(ctx, cfg.ProfileDir, profileStore)
		if err != nil {
			logger.Error().Err(err).Msg("some profiles failed to load")
		}
		logger.Info().Int("profiles", n).Str("dir", cfg.ProfileDir).Msg("profiles loaded")

		watcher := profile.NewDirWatcher(cfg.ProfileDir, profileStore, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("profile watcher stopped")
			}
		}()
	}

	// Engine
	transforms := transform.NewRegistry()
	resolver := newResolver(ctx, cfg, st, logger)
	suggester, err := newSuggester(cfg, transforms, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure gap-fill oracle")
	}
	if !suggester.Enabled() {
		logger.Info().Msg("gap-fill oracle not configured")
	}
	engine := mapping.NewEngine(transforms, resolver, suggester, engineOptions(cfg), logger)

	// Audit
	dispatcher := audit.NewDispatcher(st.auditSink, logger,
		audit.WithBuffer(cfg.AuditBuffer),
		audit.WithRetry(cfg.AuditRetryMax, 200*time.Millisecond),
	)

	mappingSvc := mapping.NewService(profileStore, engine, dispatcher, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(defaultBodyLimit, uploadBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(st.pool))

	apiV1 := e.Group("/api/v1")
	profile.NewHandler(profileStore).RegisterRoutes(apiV1)
	mapping.NewHandler(mappingSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int64("dropped", dispatcher.Dropped()).Msg("audit queue not drained")
	}
	logger.Info().Int64("audit_delivered", dispatcher.Delivered()).Msg("server stopped")
	return nil
}
