package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/devmanager/internal/guard"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
)

// DecisionRecorder учитывает решения guard.
type DecisionRecorder interface {
	GuardDecision(region, outcome string)
}

// GuardConfig параметры guard одного раздела.
type GuardConfig struct {
	Region       string
	Requirements guard.Requirements
	Routes       guard.Routes
	// PendingWait сколько ждать загрузки профиля перед ответом 202
	PendingWait time.Duration
	Recorder    DecisionRecorder
}

// Guard пропускает запрос в раздел или перенаправляет его. Пока профиль грузится,
// ждёт до PendingWait и отвечает 202 с Retry-After, если состояние так и не определилось.
func Guard(log *slog.Logger, cfg GuardConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Guard"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("region", cfg.Region),
			)

			resolver, ok := ResolverFrom(r.Context())
			if !ok {
				log.Error("guard used without session middleware")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal error"))
				return
			}

			st := resolver.State()
			d := guard.Evaluate(st, cfg.Requirements, cfg.Routes)
			if d.Outcome == guard.Pending && cfg.PendingWait > 0 {
				ctx, cancel := context.WithTimeout(r.Context(), cfg.PendingWait)
				_ = resolver.Wait(ctx)
				cancel()
				st = resolver.State()
				d = guard.Evaluate(st, cfg.Requirements, cfg.Routes)
			}
			if cfg.Recorder != nil {
				cfg.Recorder.GuardDecision(cfg.Region, string(d.Outcome))
			}

			switch d.Outcome {
			case guard.Admit:
				next.ServeHTTP(w, r.WithContext(WithState(r.Context(), st)))
			case guard.Redirect:
				log.Debug("request redirected", slog.String("location", d.Location), slog.String("reason", string(d.Reason)))
				w.Header().Set("Location", d.Location)
				render.Status(r, http.StatusSeeOther)
				render.JSON(w, r, response.Redirect(d.Location, string(d.Reason)))
			default:
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(cfg.PendingWait)))
				render.Status(r, http.StatusAccepted)
				render.JSON(w, r, response.Pending())
			}
		})
	}
}

func retryAfter(wait time.Duration) int {
	if s := int(wait.Round(time.Second) / time.Second); s > 1 {
		return s
	}
	return 1
}
