package devmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/cache"
	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/admin"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/billing"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/health"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/profile"
	sessionhandler "github.com/magabrotheeeer/devmanager/internal/http/handlers/session"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/workspace"
	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/lib/jwt"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/metrics"
	"github.com/magabrotheeeer/devmanager/internal/migrations"
	"github.com/magabrotheeeer/devmanager/internal/rabbitmq"
	"github.com/magabrotheeeer/devmanager/internal/services/account"
	adminsvc "github.com/magabrotheeeer/devmanager/internal/services/admin"
	billingsvc "github.com/magabrotheeeer/devmanager/internal/services/billing"
	workspacesvc "github.com/magabrotheeeer/devmanager/internal/services/workspace"
	"github.com/magabrotheeeer/devmanager/internal/session"
	"github.com/magabrotheeeer/devmanager/internal/storage/repository"
)

const (
	shutdownTimeout = 15 * time.Second
	healthTimeout   = 2 * time.Second
	// лимит попыток входа и регистрации с одного адреса
	authRPS   = 1
	authBurst = 5
)

// App HTTP-сервис DevManager.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	cfg      *config.Config
	db       *repository.Storage
	cache    *cache.Cache
	sessions *session.Manager
	hub      *backend.Hub

	conn        *amqp.Connection
	eventsCh    *amqp.Channel
	eventsQueue string
}

// New поднимает хранилище, кэш, брокер событий и собирает маршруты.
// Без rabbitmq.url события авторизации не выходят за пределы процесса.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.devmanager.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	version, err := migrations.Run(db.DB, cfg.MigrationsPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("schema migrated", slog.Uint64("version", uint64(version)))

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: cache not initialized: %w", op, err)
	}

	a := &App{
		logger: logger,
		cfg:    cfg,
		db:     db,
		cache:  cacheRedis,
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	var publisher backend.Publisher
	if cfg.RabbitMQURL != "" {
		a.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("%s: failed to connect RabbitMQ: %w", op, err)
		}
		a.eventsCh, a.eventsQueue, err = rabbitmq.SetupAuthEvents(a.conn)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("%s: failed to setup auth events: %w", op, err)
		}
		publisher = rabbitmq.NewPublisher(a.eventsCh, rabbitmq.ExchangeAuthEvents)
	} else {
		logger.Warn("rabbitmq url is empty, auth events stay local")
	}
	a.hub = backend.NewHub(logger, instanceID, publisher)

	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	authService := backend.NewService(logger, db, tokens, cacheRedis, a.hub, cfg.RefreshWindow)

	m := metrics.New()
	a.sessions = session.NewManager(ctx, logger, func(accessToken string) session.Backend {
		return backend.NewClient(authService, logger, accessToken)
	}, cfg.FetchTimeout, cfg.IdleTTL, m)

	billingService := billingsvc.New(db, cacheRedis, authService, logger)
	workspaceService := workspacesvc.New(db, logger)
	accountService := account.New(db, authService, authService, logger)
	adminService := adminsvc.New(db, authService, billingService, logger)

	routes := guardRoutes(cfg.Routes)
	handlers := Handlers{
		Session:   sessionhandler.New(logger, routes, cfg.PendingWait),
		Billing:   billing.New(logger, billingService, cfg.MemberArea),
		Workspace: workspace.New(logger, workspaceService),
		Profile:   profile.New(logger, accountService),
		Admin:     admin.New(logger, adminService),
		Health:    health.New(logger, healthTimeout, a.healthChecks()),
		Metrics:   m.Handler(),
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, handlers, RouteDeps{
		Sessions: middlewarectx.ManagerSessions(a.sessions),
		Limiter:  middlewarectx.NewRateLimiter(authRPS, authBurst),
		Recorder: m,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

func (a *App) healthChecks() map[string]health.Check {
	checks := map[string]health.Check{
		"postgres": a.db.DB.PingContext,
		"redis":    a.cache.Ping,
	}
	if a.conn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		}
	}
	return checks
}

// Run запускает HTTP-сервер, очистку простаивающих сессий и приём событий
// других экземпляров. Останавливается по отмене ctx.
func (a *App) Run(ctx context.Context) error {
	if a.eventsCh != nil {
		err := rabbitmq.ConsumerMessage(ctx, a.logger, a.eventsCh, a.eventsQueue, false, a.hub.HandleRemote)
		if err != nil {
			a.logger.Error("failed to start auth events consumer", sl.Err(err))
			return err
		}
	}
	go a.sessions.Run(ctx, a.cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.closeResources()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.closeResources()
		return err
	}
}

func (a *App) closeResources() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.eventsCh != nil {
		if err := a.eventsCh.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
