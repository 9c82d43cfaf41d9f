// Package storage содержит ошибки слоя хранения, общие для репозиториев.
package storage

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound запись не найдена или принадлежит другому пользователю
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists нарушено ограничение уникальности
	ErrAlreadyExists = errors.New("already exists")
)

const (
	uniqueViolation = "23505"
	// невалидный текст для типа колонки, например id не в формате uuid
	invalidTextRepresentation = "22P02"
)

// Translate приводит ошибки драйвера к ошибкам пакета, остальные возвращает как есть.
// Запись с id, который не разбирается как uuid, не может существовать, это ErrNotFound.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return ErrAlreadyExists
	case invalidTextRepresentation:
		return ErrNotFound
	}
	return err
}
