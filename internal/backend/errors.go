package backend

import "errors"

var (
	// ErrInvalidCredentials неверный email или пароль
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrEmailTaken email уже зарегистрирован
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword пароль не проходит требования длины
	ErrWeakPassword = errors.New("password is too weak")
	// ErrInvalidInput некорректные данные формы
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionRevoked токен сессии отозван
	ErrSessionRevoked = errors.New("session revoked")
	// ErrNoSession у клиента нет активной сессии
	ErrNoSession = errors.New("no active session")
	// ErrUnavailable хранилище или кеш недоступны
	ErrUnavailable = errors.New("backend unavailable")
)
