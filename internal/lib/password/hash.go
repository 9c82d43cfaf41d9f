// Package password хеширует и проверяет пароли учётных записей.
//
// Длина пароля ограничена снизу формой регистрации и сверху пределом bcrypt в 72 байта.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength минимальная длина пароля
	MinLength = 6
	// MaxLength максимальная длина пароля, больше bcrypt не учитывает
	MaxLength = 72
)

var (
	// ErrTooShort пароль короче MinLength
	ErrTooShort = errors.New("password is too short")
	// ErrTooLong пароль длиннее MaxLength
	ErrTooLong = errors.New("password is too long")
	// ErrMismatch пароль не совпадает с хешем
	ErrMismatch = errors.New("password does not match")
)

// Validate проверяет длину пароля.
func Validate(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}

// GetHash проверяет пароль и возвращает его bcrypt-хеш для хранения в identities.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	if err := Validate(password); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashed), nil
}

// CompareHash сравнивает хеш с введённым паролем.
// Несовпадение возвращается как ErrMismatch.
func CompareHash(hash, password string) error {
	const op = "password.CompareHash"
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
