// Package profile HTTP-обработчики страницы профиля.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// Service бизнес-логика профиля.
type Service interface {
	UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.Profile, error)
	ChangePassword(ctx context.Context, userID string, change models.PasswordChange) error
}

// Handler обработчики профиля.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Get godoc
// @Summary Профиль и подписка текущего пользователя
// @Tags Profile
// @Produce  json
// @Success 200 {object} response.Response "Снимок сессии"
// @Router /dashboard/profile [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.profile.Get"
	log := h.requestLog(r, op)

	st, ok := middlewarectx.StateFrom(r.Context())
	if !ok || !st.Authenticated() {
		log.Error("session state not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(st))
}

// Update godoc
// @Summary Изменить имя и email
// @Tags Profile
// @Accept  json
// @Produce  json
// @Param request body models.ProfileUpdate true "Новые данные"
// @Success 200 {object} response.Response "Профиль"
// @Failure 409 {object} response.ErrorResponse "Email занят"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /dashboard/profile [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.profile.Update"
	log := h.requestLog(r, op)

	var upd models.ProfileUpdate
	if !decode(w, r, log, &upd) {
		return
	}
	userID, ok := userID(w, r, log)
	if !ok {
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, upd)
	if errors.Is(err, backend.ErrEmailTaken) {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.ErrorKind("duplicate_email", "email already registered"))
		return
	}
	if err != nil {
		log.Error("failed to update profile", sl.Err(err))
		response.FromError(w, r, err, "could not update profile")
		return
	}

	if resolver, ok := middlewarectx.ResolverFrom(r.Context()); ok {
		if err = resolver.RefreshProfile(r.Context()); err != nil {
			log.Warn("failed to refresh profile", sl.Err(err))
		}
	}
	render.JSON(w, r, response.StatusOKWithData(profile))
}

// ChangePassword godoc
// @Summary Сменить пароль
// @Tags Profile
// @Accept  json
// @Produce  json
// @Param request body models.PasswordChange true "Текущий и новый пароль"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.ErrorResponse "Неверный текущий пароль или слабый новый"
// @Router /dashboard/profile/password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.profile.ChangePassword"
	log := h.requestLog(r, op)

	var change models.PasswordChange
	if !decode(w, r, log, &change) {
		return
	}
	userID, ok := userID(w, r, log)
	if !ok {
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, change)
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ErrorKind("invalid_credentials", "current password is incorrect"))
		return
	case errors.Is(err, backend.ErrWeakPassword):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ErrorKind("weak_password", "password is too weak"))
		return
	case err != nil:
		log.Error("failed to change password", sl.Err(err))
		response.FromError(w, r, err, "could not change password")
		return
	}
	log.Info("password changed")
	render.JSON(w, r, response.OK())
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return false
	}
	return true
}

func userID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	id, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("user not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
	}
	return id, ok
}
