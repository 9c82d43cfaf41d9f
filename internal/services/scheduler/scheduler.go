// Package scheduler фоновые задачи: перевод истёкших подписок в статус expired
// и рассылка предупреждений об истечении хостинга и доменов клиентов.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/rabbitmq"
)

// Repository выборки планировщика
type Repository interface {
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]models.ExpiredSubscription, error)
	ListExpiryCandidates(ctx context.Context, from, to time.Time) ([]models.ExpiryCandidate, error)
}

// Notifier сообщает живым сессиям, что подписка пользователя изменилась
type Notifier interface {
	NotifyUserUpdated(userID string)
}

// Publisher отправляет сообщения в обменник уведомлений
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Service задачи планировщика.
type Service struct {
	repo     Repository
	notifier Notifier
	alerts   Publisher
	log      *slog.Logger
	window   int
	now      func() time.Time
}

// New создаёт Service. window горизонт предупреждений в днях.
func New(repo Repository, notifier Notifier, alerts Publisher, window int, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		alerts:   alerts,
		log:      log,
		window:   window,
		now:      time.Now,
	}
}

// ExpireSubscriptions переводит подписки с прошедшим ends_at в expired.
// Сессии затронутых пользователей перечитывают подписку и теряют доступ к кабинету.
func (s *Service) ExpireSubscriptions(ctx context.Context) error {
	const op = "scheduler.ExpireSubscriptions"
	log := s.log.With(sl.Op(op))

	expired, err := s.repo.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(expired) == 0 {
		log.Debug("no subscriptions to expire")
		return nil
	}
	log.Info("subscriptions expired", slog.Int("count", len(expired)))

	notified := make(map[string]struct{}, len(expired))
	for _, sub := range expired {
		if _, ok := notified[sub.UserID]; ok {
			continue
		}
		notified[sub.UserID] = struct{}{}
		s.notifier.NotifyUserUpdated(sub.UserID)
	}
	return nil
}

// SendExpiryAlerts публикует предупреждения для дат, до которых осталось
// ровно одно из контрольных чисел дней. Повторный запуск в тот же день
// повторит рассылку, поэтому задача ставится раз в сутки.
func (s *Service) SendExpiryAlerts(ctx context.Context) error {
	const op = "scheduler.SendExpiryAlerts"
	log := s.log.With(sl.Op(op))

	now := s.now().UTC()
	from := now.Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, s.window)
	candidates, err := s.repo.ListExpiryCandidates(ctx, from, to)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	milestones := s.milestones()
	var sent, failed int
	for _, c := range candidates {
		for _, e := range c.Expiries(now, s.window) {
			if _, ok := milestones[e.DaysLeft]; !ok {
				continue
			}
			alert := models.ExpiryAlert{
				UserID:     c.UserID,
				Email:      c.Email,
				ClientName: c.ClientName,
				Kind:       e.Kind,
				ExpiresAt:  e.ExpiresAt,
				DaysLeft:   e.DaysLeft,
			}
			if err = s.alerts.Publish(rabbitmq.RoutingKeyExpiry, alert); err != nil {
				failed++
				log.Error("failed to publish expiry alert", slog.String("client_id", c.ClientID), sl.Err(err))
				continue
			}
			sent++
		}
	}
	log.Info("expiry alerts published", slog.Int("sent", sent), slog.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%s: %d alerts not published", op, failed)
	}
	return nil
}

// milestones дни до истечения, в которые отправляется предупреждение
func (s *Service) milestones() map[int]struct{} {
	m := map[int]struct{}{s.window: {}}
	for _, d := range []int{7, 1, 0} {
		if d <= s.window {
			m[d] = struct{}{}
		}
	}
	return m
}
