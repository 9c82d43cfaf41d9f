// Package account профиль участника: смена имени, email и пароля.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

// Repository хранилище профилей
type Repository interface {
	UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.Profile, error)
}

// Passwords проверяет текущий пароль и сохраняет новый
type Passwords interface {
	UpdatePassword(ctx context.Context, userID, current, next string) error
}

// Notifier сообщает сессиям пользователя, что профиль изменился
type Notifier interface {
	NotifyUserUpdated(userID string)
}

// Service сервис профиля.
type Service struct {
	repo      Repository
	passwords Passwords
	notifier  Notifier
	log       *slog.Logger
	validate  *validator.Validate
}

// New создаёт Service.
func New(repo Repository, passwords Passwords, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		passwords: passwords,
		notifier:  notifier,
		log:       log,
		validate:  validator.New(),
	}
}

// UpdateProfile меняет имя и email. Живые сессии пользователя перечитывают профиль.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.Profile, error) {
	const op = "account.UpdateProfile"
	if err := s.validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profile, err := s.repo.UpdateProfile(ctx, userID, upd)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, fmt.Errorf("%s: %w", op, backend.ErrEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("profile updated", sl.Op(op), slog.String("user_id", userID))
	s.notifier.NotifyUserUpdated(userID)
	return profile, nil
}

// ChangePassword меняет пароль, если подтверждение совпадает с новым паролем.
func (s *Service) ChangePassword(ctx context.Context, userID string, change models.PasswordChange) error {
	const op = "account.ChangePassword"
	if err := s.validate.Struct(change); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.passwords.UpdatePassword(ctx, userID, change.Current, change.New); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("password changed", sl.Op(op), slog.String("user_id", userID))
	return nil
}
