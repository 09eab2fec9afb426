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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/notifyd/notifyd/internal/admin"
	"github.com/notifyd/notifyd/internal/batch"
	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/channel/console"
	"github.com/notifyd/notifyd/internal/channel/email"
	"github.com/notifyd/notifyd/internal/channel/push"
	"github.com/notifyd/notifyd/internal/channel/sms"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/dispatch"
	dispatchpostgres "github.com/notifyd/notifyd/internal/dispatch/postgres"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/events/rabbit"
	"github.com/notifyd/notifyd/internal/pkg/ctxlog"
	"github.com/notifyd/notifyd/internal/pkg/httputil"
	"github.com/notifyd/notifyd/internal/pkg/metrics"
	"github.com/notifyd/notifyd/internal/pkg/postgres"
	"github.com/notifyd/notifyd/internal/schedule"
	schedulepostgres "github.com/notifyd/notifyd/internal/schedule/postgres"
	"github.com/notifyd/notifyd/internal/users"
	userspostgres "github.com/notifyd/notifyd/internal/users/postgres"
	"github.com/notifyd/notifyd/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// providerPriority and fallbackPriority order channel resolution: real
// providers win over the console fallbacks registered for every type.
const (
	providerPriority = 10
	fallbackPriority = 100
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc

	scheduler *schedule.Scheduler
	redriver  *dispatch.Redriver
	rabbit    *rabbit.Connection
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrationsPath != "" {
		if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			db.Close()
			return nil, err
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		bgCancel: bgCancel,
	}

	go app.collectDBMetrics(bgCtx)

	router, err := app.setup(bgCtx)
	if err != nil {
		db.Close()
		bgCancel()
		return nil, fmt.Errorf("setup: %w", err)
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

// Run starts the HTTP servers.
func (a *App) Run() error {
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

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.bgCancel()

	if a.redriver != nil {
		a.redriver.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.rabbit != nil {
		a.rabbit.Close()
	}
	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the scheduler instance. Used in tests.
func (a *App) Scheduler() *schedule.Scheduler {
	return a.scheduler
}

func (a *App) setup(ctx context.Context) (*chi.Mux, error) {
	registry, err := a.buildChannelRegistry()
	if err != nil {
		return nil, err
	}

	dispatchRepo := dispatchpostgres.NewRepository(a.db)
	usersRepo := userspostgres.NewRepository(a.db)
	scheduleRepo := schedulepostgres.NewRepository(a.db)

	usersService := users.NewService(usersRepo)
	pipeline := dispatch.NewPipeline(dispatchRepo, usersService, registry)

	// The event bus is optional; without it delivery runs in-process and
	// dead letters only exist as failed rows and logs.
	var publisher *rabbit.Publisher
	var deadLetter dispatch.DeadLetterSink
	var eventPublisher dispatch.EventPublisher
	if a.config.Events.Enabled {
		conn, err := rabbit.Connect(rabbit.Config{
			URL:            a.config.Events.URL,
			ConnectRetries: a.config.Events.ConnectRetries,
			RetryDelay:     a.config.Events.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to event bus: %w", err)
		}
		a.rabbit = conn
		publisher = rabbit.NewPublisher(conn)
		deadLetter = publisher
		eventPublisher = publisher
	}

	coordinator := dispatch.NewCoordinator(dispatchRepo, deadLetter, a.config.Retry.MaxRetries)

	scheduler := schedule.NewScheduler(scheduleRepo, func(ctx context.Context, notificationID string) error {
		outcome, attempted, err := pipeline.DeliverScheduled(ctx, notificationID)
		if err != nil {
			return err
		}
		if attempted && !outcome.Success {
			notification, getErr := dispatchRepo.GetByID(ctx, notificationID)
			if getErr != nil {
				return getErr
			}
			coordinator.HandleFailure(ctx, notification)
		}
		return nil
	})
	if err := scheduler.Start(ctx); err != nil {
		return nil, err
	}
	a.scheduler = scheduler

	redriver := dispatch.NewRedriver(dispatch.RedriverConfig{
		BatchSize:    a.config.Redriver.BatchSize,
		PollInterval: a.config.Redriver.PollInterval,
	}, dispatchRepo, pipeline, coordinator)
	redriver.Start(ctx)
	a.redriver = redriver

	if a.config.Events.Enabled {
		consumer := rabbit.NewConsumer(a.rabbit, publisher, pipeline, coordinator)
		if err := consumer.Start(ctx); err != nil {
			return nil, fmt.Errorf("start lane consumers: %w", err)
		}
	}

	dispatchService := dispatch.NewService(dispatchRepo, usersService, pipeline, coordinator, scheduler, eventPublisher)
	orchestrator := batch.NewOrchestrator(dispatchRepo, usersService, pipeline, coordinator, scheduler)

	dispatchHandler := dispatch.NewHandler(dispatchService)
	usersHandler := users.NewHandler(usersService)
	batchHandler := batch.NewHandler(orchestrator)
	adminHandler := admin.NewHandler(registry, scheduler, dispatchService)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		dispatchHandler.RegisterRoutes(r)
		usersHandler.RegisterRoutes(r)
		batchHandler.RegisterRoutes(r)
		adminHandler.RegisterRoutes(r)
	})

	return r, nil
}

// buildChannelRegistry registers enabled providers plus a console fallback
// per channel type, so every type stays deliverable in development.
func (a *App) buildChannelRegistry() (*channel.Registry, error) {
	registry := channel.NewRegistry()
	channels := a.config.Channels

	if channels.Email.Enabled {
		emailChannel, err := email.New(email.Config{
			Enabled:      true,
			SMTPHost:     channels.Email.SMTPHost,
			SMTPPort:     channels.Email.SMTPPort,
			SMTPUser:     channels.Email.SMTPUser,
			SMTPPassword: channels.Email.SMTPPassword,
			FromAddress:  channels.Email.FromAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("create email channel: %w", err)
		}
		registry.Register(emailChannel, providerPriority)
	} else {
		slog.Warn("email provider disabled, falling back to console delivery")
	}

	if channels.SMS.Enabled {
		smsChannel, err := sms.New(sms.Config{
			Enabled:    true,
			GatewayURL: channels.SMS.GatewayURL,
			APIKey:     channels.SMS.APIKey,
			FromNumber: channels.SMS.FromNumber,
			RateLimit:  channels.SMS.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create sms channel: %w", err)
		}
		registry.Register(smsChannel, providerPriority)
	} else {
		slog.Warn("sms provider disabled, falling back to console delivery")
	}

	if channels.Push.Enabled {
		pushChannel, err := push.New(push.Config{
			Enabled:    true,
			GatewayURL: channels.Push.GatewayURL,
			APIKey:     channels.Push.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create push channel: %w", err)
		}
		registry.Register(pushChannel, providerPriority)
	} else {
		slog.Warn("push provider disabled, falling back to console delivery")
	}

	for _, channelType := range []domain.ChannelType{
		domain.ChannelTypeEmail,
		domain.ChannelTypeSMS,
		domain.ChannelTypePush,
	} {
		registry.Register(console.New(channelType), fallbackPriority)
	}

	return registry, nil
}

func runMigrations(path, databaseURL string) error {
	migrator, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("database migrations applied")
	return nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
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
