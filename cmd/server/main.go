package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/monev-api/internal/activity"
	"github.com/stanstork/monev-api/internal/config"
	"github.com/stanstork/monev-api/internal/handlers"
	"github.com/stanstork/monev-api/internal/metrics"
	"github.com/stanstork/monev-api/internal/middleware"
	"github.com/stanstork/monev-api/internal/migration"
	"github.com/stanstork/monev-api/internal/notification"
	"github.com/stanstork/monev-api/internal/repository"
	"github.com/stanstork/monev-api/internal/revocation"
	"github.com/stanstork/monev-api/internal/routes"
	"github.com/stanstork/monev-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const shutdownTimeout = 10 * time.Second

type application struct {
	config   *config.Config
	db       *sql.DB
	redis    *redis.Client
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	events     activity.Service
	users      repository.UserRepository
	inbox      repository.NotificationRepository
	revocation *revocation.Service
	hub        *notification.Hub
	sweeper    *worker.NotificationSweeper
	wake       *worker.Signal
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	app := &application{
		config: cfg,
		logger: logger,
		wake:   worker.NewSignal(),
	}
	app.initMetrics()
	app.initStorage()
	defer app.close()
	app.initServices()

	// Initialize the HTTP router and middleware.
	router := app.initRouter()
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	if err := app.run(corsHandler); err != nil {
		logger.Error().Err(err).Msg("Application stopped with error")
	}
	logger.Info().Msg("Application terminated.")
}

func (app *application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New()
	if err := app.metrics.Register(app.registry); err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to register metrics")
	}
}

// initStorage opens the database (and redis when tokens live there) and picks the
// repositories for the configured driver.
func (app *application) initStorage() {
	var (
		activityRepo repository.ActivityRepository
		tokenRepo    repository.TokenBlacklistRepository
	)

	switch app.config.Storage.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", app.config.DatabaseURL)
		if err != nil {
			app.logger.Fatal().Err(err).Msg("Failed to connect to the database")
		}
		if err := db.Ping(); err != nil {
			app.logger.Fatal().Err(err).Msg("Failed to ping database")
		}
		if err := migration.RunMigrations(db, app.logger); err != nil {
			app.logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		app.db = db

		activityRepo = repository.NewActivityRepository(db)
		app.inbox = repository.NewNotificationRepository(db)
		app.users = repository.NewUserRepository(db)
	default:
		app.logger.Warn().Msg("Using in-memory storage; data is lost on restart and no users can sign in")
		activityRepo = repository.NewInMemoryActivityRepository()
		app.inbox = repository.NewInMemoryNotificationRepository()
		app.users = repository.NewInMemoryUserRepository()
	}

	switch app.config.Revocation.Backend {
	case config.DriverRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.config.Redis.Addr,
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
		})
		if err := app.redis.Ping(context.Background()).Err(); err != nil {
			app.logger.Fatal().Err(err).Str("addr", app.config.Redis.Addr).Msg("Failed to ping redis")
		}
		tokenRepo = repository.NewRedisTokenBlacklistRepository(app.redis)
	case config.DriverPostgres:
		tokenRepo = repository.NewTokenBlacklistRepository(app.db)
	default:
		tokenRepo = repository.NewInMemoryTokenBlacklistRepository()
	}

	app.events = activity.NewService(activityRepo, app.logger,
		activity.WithMetrics(app.metrics),
		activity.WithNudger(app.wake),
	)
	app.revocation = revocation.NewService(tokenRepo, app.logger, revocation.WithMetrics(app.metrics))
}

func (app *application) initServices() {
	app.hub = notification.NewHub(app.logger, app.config.CORS.AllowedOrigins)

	opts := []notification.DispatcherOption{
		notification.WithLiveSocket(app.hub),
		notification.WithChannelTimeout(app.config.Sweeper.ChannelTimeout),
		notification.WithMaxInFlight(app.config.Sweeper.DeliveryConcurrency),
		notification.WithMetrics(app.metrics),
	}
	if app.config.Email.Enabled() {
		sender, err := notification.NewSMTPSender(app.config.Email, app.logger)
		if err != nil {
			app.logger.Fatal().Err(err).Msg("Failed to configure email sender")
		}
		opts = append(opts, notification.WithEmailSender(sender))
	} else {
		app.logger.Warn().Msg("Email notifications disabled: smtp_host or from not configured")
	}
	if push := notification.NewFirebasePushSender(app.config.Push, app.logger); push.Enabled() {
		opts = append(opts, notification.WithPushSender(push))
	}
	dispatcher := notification.NewDispatcher(app.inbox, app.logger, opts...)

	app.sweeper = worker.NewNotificationSweeper(
		app.events,
		app.users,
		dispatcher,
		worker.SweeperConfig{
			Concurrency: app.config.Sweeper.Concurrency,
			BatchSize:   app.config.Sweeper.BatchSize,
		},
		app.wake,
		app.metrics,
		app.logger,
	)
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	deps := map[string]handlers.Pinger{}
	if app.db != nil {
		deps["postgres"] = app.db
	}
	if app.redis != nil {
		deps["redis"] = redisPinger{app.redis}
	}

	return routes.NewRouter(routes.Handlers{
		Auth: handlers.NewAuthHandler(
			app.users,
			app.events,
			app.revocation,
			app.config.JWTSecret,
			app.config.JWTTTL,
			app.logger,
		),
		Activity:     handlers.NewActivityHandler(app.events, app.sweeper, app.logger),
		Notification: handlers.NewNotificationHandler(notification.NewInbox(app.inbox, app.logger), app.logger),
		Live:         handlers.NewLiveHandler(app.hub),
		Readiness:    handlers.Readiness(deps),
		Metrics:      promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
	})
}

// periodicJobs are the long-lived timers owned by the process.
func (app *application) periodicJobs() []*worker.Periodic {
	jobs := []*worker.Periodic{
		worker.NewPeriodic(worker.PeriodicConfig{
			Name:       "notification_sweep",
			Interval:   app.config.Sweeper.Interval,
			RunOnStart: app.config.Sweeper.RunOnStart,
			Wake:       app.wake,
		}, app.sweeper.Task(), app.logger),
		worker.NewPeriodic(worker.PeriodicConfig{
			Name:     "token_blacklist_sweep",
			Interval: app.config.Revocation.SweepInterval,
		}, app.revocation.SweepTask(), app.logger),
	}

	if days := app.config.Retention.Days; days > 0 {
		jobs = append(jobs, worker.NewPeriodic(worker.PeriodicConfig{
			Name:     "activity_retention",
			Interval: app.config.Retention.Interval,
		}, func(ctx context.Context) error {
			_, err := app.events.PruneOlderThanDays(ctx, days)
			return err
		}, app.logger))
	}
	return jobs
}

// run starts the HTTP server and the periodic jobs and handles graceful shutdown.
func (app *application) run(handler http.Handler) error {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range app.periodicJobs() {
		job := job
		g.Go(func() error { return job.Run(gctx) })
	}

	g.Go(func() error {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info().Msg("Shutting down...")

		// Gracefully shut down the HTTP server.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error().Err(err).Msg("HTTP server shutdown error")
			return err
		}
		app.logger.Info().Msg("HTTP server shutdown complete.")
		return nil
	})

	return g.Wait()
}

func (app *application) close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
