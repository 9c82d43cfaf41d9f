// Package sl содержит вспомогательные атрибуты для slog.
package sl

import (
	"io"
	"log/slog"
	"time"
)

// Err возвращает атрибут "error" с текстом ошибки.
//
//	log.Error("failed to resolve profile", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Op атрибут с именем операции, ключ одинаковый во всех пакетах
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// Since атрибут с длительностью от start в миллисекундах
func Since(start time.Time) slog.Attr {
	return slog.Int64("elapsed_ms", time.Since(start).Milliseconds())
}

// New логгер процесса: текст с уровнем debug в local и dev, JSON с уровнем info в остальных окружениях.
func New(env string, w io.Writer) *slog.Logger {
	switch env {
	case "", "local", "dev":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
