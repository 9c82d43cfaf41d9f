package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/magabrotheeeer/devmanager/internal/backend"
)

// ErrorKind класс ошибки входа или регистрации, по нему ветвятся вызывающие.
type ErrorKind string

// Классы ошибок авторизации
const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindNetwork            ErrorKind = "network_error"
	KindDuplicateEmail     ErrorKind = "duplicate_email"
	KindWeakPassword       ErrorKind = "weak_password"
	KindValidation         ErrorKind = "validation"
	KindOther              ErrorKind = "other"
)

// AuthError ожидаемый отказ бэкенда. Состояние сессии при нём не меняется.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// KindOf возвращает класс ошибки или пустую строку, если это не AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func classify(err error) *AuthError {
	var netErr net.Error
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return &AuthError{Kind: KindInvalidCredentials, Err: err}
	case errors.Is(err, backend.ErrEmailTaken):
		return &AuthError{Kind: KindDuplicateEmail, Err: err}
	case errors.Is(err, backend.ErrWeakPassword):
		return &AuthError{Kind: KindWeakPassword, Err: err}
	case errors.Is(err, backend.ErrInvalidInput):
		return &AuthError{Kind: KindValidation, Err: err}
	case errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return &AuthError{Kind: KindNetwork, Err: err}
	default:
		return &AuthError{Kind: KindOther, Err: err}
	}
}
