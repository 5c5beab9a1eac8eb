// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/aggregation"
	"github.com/bissquit/status-aggregator/internal/aggregator"
	"github.com/bissquit/status-aggregator/internal/config"
	"github.com/bissquit/status-aggregator/internal/export"
	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/bissquit/status-aggregator/internal/incidents"
	"github.com/bissquit/status-aggregator/internal/incidents/httpsource"
	"github.com/bissquit/status-aggregator/internal/messaging"
	"github.com/bissquit/status-aggregator/internal/parse"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/httputil"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/pkg/postgres"
	"github.com/bissquit/status-aggregator/internal/publish"
	"github.com/bissquit/status-aggregator/internal/publish/file"
	kafkasink "github.com/bissquit/status-aggregator/internal/publish/kafka"
	"github.com/bissquit/status-aggregator/internal/publish/webhook"
	"github.com/bissquit/status-aggregator/internal/statusapi"
	"github.com/bissquit/status-aggregator/internal/store"
	"github.com/bissquit/status-aggregator/internal/store/memory"
	storepostgres "github.com/bissquit/status-aggregator/internal/store/postgres"
	storeredis "github.com/bissquit/status-aggregator/internal/store/redis"
	"github.com/bissquit/status-aggregator/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config *config.Config
	logger *slog.Logger

	db     *pgxpool.Pool
	redis  *storeredis.CursorStore
	kafka  *kafkasink.Sink
	runner *aggregator.Runner
	cache  *statusapi.Cache

	server        *http.Server
	metricsServer *http.Server

	backgroundCancel context.CancelFunc
	background       sync.WaitGroup
}

// New creates a new application instance. Storage connections are opened
// here; nothing runs until Run is called.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	app := &App{
		config: cfg,
		logger: logger,
		cache:  statusapi.NewCache(cfg.Cache.TTL),
	}

	if err := app.setupPipeline(); err != nil {
		app.Close()
		return nil, err
	}

	router, err := app.setupRouter()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupPipeline() error {
	cfg := a.config

	repo, cursors, err := a.setupStores()
	if err != nil {
		return err
	}

	source, err := a.setupSource()
	if err != nil {
		return err
	}

	parsers, err := parse.DefaultParsers(parse.Config{
		Environments:    cfg.Aggregator.Environments,
		MaximumSeverity: cfg.Aggregator.MaximumSeverity,
	})
	if err != nil {
		return fmt.Errorf("create parsers: %w", err)
	}

	updater := aggregation.NewUpdater(repo, aggregation.Config{
		IncidentGroupEndDelay: cfg.Aggregator.IncidentGroupEndDelay(),
		EventEndDelay:         cfg.Aggregator.EventEndDelay(),
	})
	factory := aggregation.NewFactory(repo, aggregation.NewLinker(updater), aggregation.NewSeverityBump(repo))
	processor := incidents.NewProcessor(source, parse.NewAggregate(parsers...), factory, repo)

	builder, err := messaging.NewContentBuilder()
	if err != nil {
		return fmt.Errorf("create message content builder: %w", err)
	}
	messages := messaging.NewUpdater(repo, messaging.NewChangeProvider(repo), builder, cfg.Aggregator.EventStartMessageDelay())

	sink, err := a.setupSinks()
	if err != nil {
		return err
	}

	visibility := cfg.Aggregator.EventVisibilityPeriod()
	exporter := export.NewStatusExporter(
		export.NewComponentExporter(repo, visibility),
		export.NewEventsExporter(repo, export.NewEventExporter(repo), visibility),
		sink,
		cfg.Publish.BlobName,
	)

	a.runner = aggregator.NewRunner(repo, cursors, processor, updater, messages, exporter, aggregator.Config{
		EventVisibilityPeriod: visibility,
		BatchSize:             cfg.Aggregator.BatchSize,
		RunTimeout:            cfg.Aggregator.RunTimeout,
	})
	return nil
}

func (a *App) setupStores() (store.Repository, store.CursorStore, error) {
	cfg := a.config

	if cfg.Storage.Mode == config.StoragePostgres || cfg.Storage.Cursor == config.StoragePostgres {
		db, err := postgres.Connect(ctxlog.WithLogger(context.Background(), a.logger), postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
			AttemptTimeout:  cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
	}

	var repo store.Repository
	var mem *memory.Repository
	switch cfg.Storage.Mode {
	case config.StoragePostgres:
		repo = storepostgres.NewRepository(a.db)
	default:
		mem = memory.NewRepository()
		repo = mem
		a.logger.Warn("using in-memory storage: aggregation state is lost on restart")
	}

	var cursors store.CursorStore
	switch cfg.Storage.Cursor {
	case config.StoragePostgres:
		cursors = storepostgres.NewRepository(a.db)
	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer cancel()

		redisStore, err := storeredis.NewCursorStore(ctx, storeredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		a.redis = redisStore
		cursors = redisStore
	default:
		if mem == nil {
			mem = memory.NewRepository()
		}
		cursors = mem
	}

	a.logger.Info("storage configured", "mode", cfg.Storage.Mode, "cursor", cfg.Storage.Cursor)
	return repo, cursors, nil
}

func (a *App) setupSource() (incidents.Source, error) {
	cfg := a.config.IncidentSource
	if cfg.BaseURL == "" {
		a.logger.Warn("incident source is not configured: no incidents will be fetched")
		return incidents.NewStaticSource(), nil
	}

	client, err := httpsource.NewClient(httpsource.Config{
		BaseURL:    cfg.BaseURL,
		SigningKey: cfg.SigningKey,
		Issuer:     cfg.Issuer,
		PageSize:   cfg.PageSize,
		RateLimit:  cfg.RateLimit,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create incident source: %w", err)
	}
	return client, nil
}

func (a *App) setupSinks() (publish.Sink, error) {
	cfg := a.config.Publish
	sinks := []publish.Sink{a.cache}

	if cfg.Directory != "" {
		fileSink, err := file.NewSink(cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("create file sink: %w", err)
		}
		sinks = append(sinks, fileSink)
	}

	if cfg.Kafka.Enabled {
		kafkaSink, err := kafkasink.NewSink(kafkasink.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("create kafka sink: %w", err)
		}
		a.kafka = kafkaSink
		sinks = append(sinks, kafkaSink)
	}

	if cfg.Webhook.URL != "" {
		webhookSink, err := webhook.NewSink(webhook.Config{
			URL:      cfg.Webhook.URL,
			Username: cfg.Webhook.Username,
			IconURL:  cfg.Webhook.IconURL,
			Timeout:  cfg.Webhook.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create webhook sink: %w", err)
		}
		sinks = append(sinks, webhookSink)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.logger.Info("publish sinks configured", "sinks", names, "blob_name", cfg.BlobName)

	return publish.NewMulti(sinks...), nil
}

// Run starts the aggregation loop and the HTTP servers.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), a.logger))
	a.backgroundCancel = cancel

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.runner.Loop(ctx, a.config.Aggregator.RunInterval)
	}()

	if a.db != nil {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			metrics.CollectDBPool(ctx, a.db, 15*time.Second)
		}()
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// RunOnce executes a single aggregation run.
func (a *App) RunOnce(ctx context.Context) (aggregator.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if a.config.Aggregator.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Aggregator.RunTimeout)
		defer cancel()
	}
	return a.runner.Run(ctx)
}

// Reset deletes all aggregation state.
func (a *App) Reset(ctx context.Context) (int, error) {
	return a.runner.Reset(ctxlog.WithLogger(ctx, a.logger))
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	if a.backgroundCancel != nil {
		a.backgroundCancel()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, server := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// the loop observes cancellation between storage calls
	done := make(chan struct{})
	go func() {
		a.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for aggregation loop: %w", ctx.Err()))
	}

	a.Close()
	return errors.Join(errs...)
}

// Close releases storage and publish connections.
func (a *App) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("failed to close kafka sink", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger, "/healthz", "/readyz"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Status Aggregator API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	statusHandler := statusapi.NewHandler(a.cache, a.config.Publish.BlobName, a.runner)

	var auth *identity.Authenticator
	if a.config.Admin.SigningKey != "" {
		var err error
		auth, err = identity.NewAuthenticator(identity.Config{
			SigningKey: a.config.Admin.SigningKey,
			Issuer:     a.config.Admin.Issuer,
		})
		if err != nil {
			return nil, fmt.Errorf("create admin authenticator: %w", err)
		}
	} else {
		a.logger.Warn("admin signing key is not set: admin routes are disabled")
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			statusHandler.RegisterRoutes(r)
		})

		if auth != nil {
			r.Group(func(r chi.Router) {
				r.Use(httputil.AuthMiddleware(auth))
				r.Use(middleware.Timeout(a.config.Aggregator.RunTimeout))
				statusHandler.RegisterAdminRoutes(r)
			})
		}
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
