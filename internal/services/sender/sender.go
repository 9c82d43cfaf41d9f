// Package sender обрабатывает очередь предупреждений об истечении: сохраняет
// уведомление в кабинете пользователя и отправляет письмо.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/lib/smtp"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// Repository хранилище уведомлений
type Repository interface {
	CreateNotification(ctx context.Context, n models.Notification) (*models.Notification, error)
}

// Service отправитель уведомлений.
type Service struct {
	repo      Repository
	transport smtp.TransportInterface
	log       *slog.Logger
	timeout   time.Duration
}

// New создаёт Service. timeout ограничивает запись уведомления в базу.
func New(repo Repository, transport smtp.TransportInterface, timeout time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		transport: transport,
		log:       log,
		timeout:   timeout,
	}
}

// HandleExpiryAlert обработчик сообщения очереди notifications.expiry.
// Письмо без адреса не отправляется, уведомление в кабинете создаётся всегда.
func (s *Service) HandleExpiryAlert(body []byte) error {
	const op = "sender.HandleExpiryAlert"

	var alert models.ExpiryAlert
	if err := json.Unmarshal(body, &alert); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Op(op), sl.Err(err))
		return fmt.Errorf("%s: error unmarshalling message: %w", op, err)
	}

	title, text := expiryText(alert)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.repo.CreateNotification(ctx, models.Notification{
		UserID:  alert.UserID,
		Title:   title,
		Message: text,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if alert.Email == "" {
		return nil
	}
	if err := s.sendEmail([]string{alert.Email}, title, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func expiryText(a models.ExpiryAlert) (title, text string) {
	what := "A hospedagem"
	if a.Kind == models.ExpiryDomain {
		what = "O domínio"
	}
	date := a.ExpiresAt.Format("02/01/2006")

	switch a.DaysLeft {
	case 0:
		title = fmt.Sprintf("%s de %s vence hoje", what, a.ClientName)
	case 1:
		title = fmt.Sprintf("%s de %s vence amanhã", what, a.ClientName)
	default:
		title = fmt.Sprintf("%s de %s vence em %d dias", what, a.ClientName, a.DaysLeft)
	}
	text = fmt.Sprintf("%s do cliente %s vence em %s.\n\nRenove com antecedência para evitar que o site fique fora do ar.",
		what, a.ClientName, date)
	return title, text
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	log := s.log.With(slog.String("to", strings.Join(to, ";")))
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err = client.Mail(s.transport.GetSMTPUser()); err != nil {
		log.Error("failed to set MAIL FROM", sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err = client.Rcpt(addr); err != nil {
			log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	log.Info("email sent successfully")
	return nil
}
