// Package sender процесс отправки уведомлений об истечении хостинга и доменов.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/lib/smtp"
	"github.com/magabrotheeeer/devmanager/internal/rabbitmq"
	senderservice "github.com/magabrotheeeer/devmanager/internal/services/sender"
	"github.com/magabrotheeeer/devmanager/internal/storage/repository"
)

// storeTimeout ограничивает запись уведомления в базу
const storeTimeout = 5 * time.Second

type App struct {
	db            *repository.Storage
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.New(db, transport, storeTimeout, logger)

	return &App{
		db:            db,
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	// без повторной доставки: уведомление в кабинете к моменту отправки письма уже создано
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.QueueExpiry, false, a.senderService.HandleExpiryAlert)
	if err != nil {
		a.logger.Error("failed to start expiry consumer", sl.Err(err))
		a.close()
		return fmt.Errorf("failed to start %s consumer: %w", rabbitmq.QueueExpiry, err)
	}

	<-ctx.Done()
	a.logger.Info("Sender service shutting down gracefully")
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	_ = a.db.Close()
}
