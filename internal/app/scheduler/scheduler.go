// Package scheduler процесс фоновых задач: истечение подписок и предупреждения
// об истечении хостинга и доменов клиентов.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/rabbitmq"
	schedulerservice "github.com/magabrotheeeer/devmanager/internal/services/scheduler"
	"github.com/magabrotheeeer/devmanager/internal/storage/repository"
)

const (
	dbReadyRetries = 10
	dbReadyDelay   = 3 * time.Second
	// jobTimeout верхняя граница одного запуска задачи
	jobTimeout = 5 * time.Minute
)

// App представляет приложение планировщика.
type App struct {
	cron    *cron.Cron
	service *schedulerservice.Service
	cfg     config.Scheduler
	db      *repository.Storage
	conn    *amqp.Connection
	alertCh *amqp.Channel
	eventCh *amqp.Channel
	logger  *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range dbReadyRetries {
		if err = repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg.Scheduler, logger: logger}

	var err error
	a.db, err = repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = waitForDB(ctx, a.db); err != nil {
		a.closeResources()
		return nil, err
	}

	a.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.alertCh, err = rabbitmq.SetupChannel(a.conn, rabbitmq.NotificationQueues())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.eventCh, err = rabbitmq.DeclareAuthEvents(a.conn)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to setup auth events: %w", err)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = "scheduler-" + uuid.NewString()
	}
	// планировщик только рассылает события, своих сессий у него нет
	hub := backend.NewHub(logger, instanceID, rabbitmq.NewPublisher(a.eventCh, rabbitmq.ExchangeAuthEvents))
	alerts := rabbitmq.NewPublisher(a.alertCh, rabbitmq.ExchangeNotifications)
	a.service = schedulerservice.New(a.db, hub, alerts, cfg.AlertWindowDays, logger)

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	a.cron = cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return a, nil
}

// Run регистрирует задачи и ждёт отмены ctx. Истечение подписок выполняется и сразу при старте.
func (a *App) Run(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{name: "expire_subscriptions", spec: a.cfg.ExpireSpec, run: a.service.ExpireSubscriptions},
		{name: "expiry_alerts", spec: a.cfg.AlertsSpec, run: a.service.SendExpiryAlerts},
	}
	for _, j := range jobs {
		if _, err := a.cron.AddFunc(j.spec, a.job(ctx, j.name, j.run)); err != nil {
			a.closeResources()
			return fmt.Errorf("failed to schedule %s job: %w", j.name, err)
		}
		a.logger.Info("scheduled job", slog.String("job", j.name), slog.String("schedule", j.spec))
	}

	a.job(ctx, jobs[0].name, jobs[0].run)()
	a.cron.Start()

	<-ctx.Done()
	a.logger.Info("shutting down scheduler service")
	<-a.cron.Stop().Done()
	a.closeResources()
	return nil
}

func (a *App) job(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		start := time.Now()
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		if err := run(jobCtx); err != nil {
			a.logger.Error("job failed", slog.String("job", name), sl.Err(err), sl.Since(start))
			return
		}
		a.logger.Debug("job finished", slog.String("job", name), sl.Since(start))
	}
}

func (a *App) closeResources() {
	for _, ch := range []*amqp.Channel{a.alertCh, a.eventCh} {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
