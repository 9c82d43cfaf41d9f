// Package backend реализует внешний бэкенд, с которым работает резолвер сессий:
// учётные записи и сессии на JWT, отзыв токенов, события авторизации,
// выборку профиля и активной подписки. На каждую браузерную сессию создаётся свой Client.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/lib/jwt"
	"github.com/magabrotheeeer/devmanager/internal/lib/password"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

// Repository хранилище учётных записей, профилей и подписок
type Repository interface {
	CreateAccount(ctx context.Context, email, passwordHash, fullName string) (*models.Identity, *models.Profile, error)
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetIdentity(ctx context.Context, userID string) (*models.Identity, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	GetProfileByUserID(ctx context.Context, userID string) (*models.Profile, error)
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// RevocationList список отозванных токенов
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Service бэкенд авторизации.
type Service struct {
	log           *slog.Logger
	repo          Repository
	tokens        jwt.Maker
	revoked       RevocationList
	hub           *Hub
	refreshWindow time.Duration
	now           func() time.Time
	validate      *validator.Validate
}

// NewService создаёт Service.
func NewService(log *slog.Logger, repo Repository, tokens jwt.Maker, revoked RevocationList, hub *Hub, refreshWindow time.Duration) *Service {
	return &Service{
		log:           log,
		repo:          repo,
		tokens:        tokens,
		revoked:       revoked,
		hub:           hub,
		refreshWindow: refreshWindow,
		now:           time.Now,
		validate:      validator.New(),
	}
}

// Hub возвращает шину событий сервиса.
func (s *Service) Hub() *Hub {
	return s.hub
}

// SignUp создаёт учётную запись и профиль участника и сразу открывает сессию.
func (s *Service) SignUp(ctx context.Context, email, pass, fullName string) (*models.Session, error) {
	const op = "backend.SignUp"
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%s: email: %w", op, ErrInvalidInput)
	}
	if err := s.validate.Var(fullName, "required,min=2,max=100"); err != nil {
		return nil, fmt.Errorf("%s: full name: %w", op, ErrInvalidInput)
	}
	if err := password.Validate(pass); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrWeakPassword, err)
	}

	hash, err := password.GetHash(pass)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	identity, _, err := s.repo.CreateAccount(ctx, email, hash, fullName)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	s.log.Info("account created", sl.Op(op), slog.String("user_id", identity.ID))
	return s.issue(identity.ID, identity.Email)
}

// SignInWithPassword проверяет пароль и открывает сессию.
func (s *Service) SignInWithPassword(ctx context.Context, email, pass string) (*models.Session, error) {
	const op = "backend.SignInWithPassword"
	identity, err := s.repo.GetIdentityByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	if err = password.CompareHash(identity.PasswordHash, pass); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	return s.issue(identity.ID, identity.Email)
}

// SignOut отзывает токен до его истечения и оповещает остальные сессии с этим токеном.
func (s *Service) SignOut(ctx context.Context, session *models.Session) error {
	const op = "backend.SignOut"
	if session == nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	s.hub.Publish(Event{Type: SignedOut, UserID: session.UserID, TokenID: session.TokenID})
	return nil
}

// Verify проверяет токен и существование пользователя и продлевает токен,
// если до истечения осталось меньше refreshWindow.
// Второй результат true, если токен был заменён.
func (s *Service) Verify(ctx context.Context, accessToken string) (*models.Session, bool, error) {
	const op = "backend.Verify"
	claims, err := s.tokens.ParseToken(accessToken)
	if errors.Is(err, jwt.ErrExpired) {
		return nil, false, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w: %w", op, ErrNoSession, err)
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	if revoked {
		return nil, false, fmt.Errorf("%s: %w", op, ErrSessionRevoked)
	}
	// токен удалённого пользователя остаётся подписанным до истечения
	_, err = s.repo.GetIdentity(ctx, claims.UserID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("%s: %w: user deleted", op, ErrNoSession)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	session := sessionFromClaims(accessToken, claims)
	if session.ExpiresAt.Sub(s.now()) > s.refreshWindow {
		return session, false, nil
	}
	refreshed, err := s.issue(session.UserID, session.Email)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return refreshed, true, nil
}

// UpdatePassword меняет пароль после проверки текущего.
func (s *Service) UpdatePassword(ctx context.Context, userID, current, next string) error {
	const op = "backend.UpdatePassword"
	if err := password.Validate(next); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrWeakPassword, err)
	}
	identity, err := s.repo.GetIdentity(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	if err = password.CompareHash(identity.PasswordHash, current); err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	hash, err := password.GetHash(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = s.repo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return nil
}

// SelectProfile возвращает профиль пользователя или nil, если строки нет.
func (s *Service) SelectProfile(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "backend.SelectProfile"
	p, err := s.repo.GetProfileByUserID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return p, nil
}

// SelectActiveSubscription возвращает активную подписку с тарифом или nil.
func (s *Service) SelectActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "backend.SelectActiveSubscription"
	sub, err := s.repo.GetActiveSubscription(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return sub, nil
}

// NotifyUserUpdated сообщает живым сессиям пользователя, что профиль или подписка изменились.
func (s *Service) NotifyUserUpdated(userID string) {
	s.hub.NotifyUserUpdated(userID)
}

// NotifyUserDeleted завершает все сессии удалённого пользователя.
func (s *Service) NotifyUserDeleted(userID string) {
	s.hub.NotifyUserDeleted(userID)
}

func (s *Service) issue(userID, email string) (*models.Session, error) {
	const op = "backend.issue"
	token, claims, err := s.tokens.GenerateToken(userID, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sessionFromClaims(token, claims), nil
}

func sessionFromClaims(token string, claims *jwt.Claims) *models.Session {
	session := &models.Session{
		AccessToken: token,
		TokenID:     claims.TokenID(),
		UserID:      claims.UserID(),
		Email:       claims.Email,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}
