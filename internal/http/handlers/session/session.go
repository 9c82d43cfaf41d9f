// Package session HTTP-обработчики страницы входа: вход, регистрация, выход
// и текущее состояние сессии вместе с адресом, куда её направить.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/guard"
	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	sess "github.com/magabrotheeeer/devmanager/internal/session"
)

// SignInRequest учётные данные для входа.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpRequest данные регистрации.
type SignUpRequest struct {
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// View состояние сессии и адрес, на который её отправит guard.
type View struct {
	State    sess.State `json:"state"`
	Location string     `json:"location,omitempty"`
}

// Handler обработчики сессии.
type Handler struct {
	log         *slog.Logger
	routes      guard.Routes
	pendingWait time.Duration
	validate    *validator.Validate
}

// New создаёт Handler. pendingWait сколько ждать загрузки профиля после входа.
func New(log *slog.Logger, routes guard.Routes, pendingWait time.Duration) *Handler {
	return &Handler{
		log:         log,
		routes:      routes,
		pendingWait: pendingWait,
		validate:    validator.New(),
	}
}

// SignIn godoc
// @Summary Вход по email и паролю
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body SignInRequest true "Учётные данные"
// @Success 200 {object} response.Response "Сессия и адрес перехода"
// @Success 202 {object} response.Response "Профиль ещё загружается"
// @Failure 401 {object} response.ErrorResponse "Неверный email или пароль"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 503 {object} response.ErrorResponse "Бэкенд недоступен"
// @Router /auth/sign-in [post]
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.SignIn"
	log := h.requestLog(r, op)

	var req SignInRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	resolver, ok := h.resolver(w, r, log)
	if !ok {
		return
	}

	if err := resolver.SignIn(r.Context(), req.Email, req.Password); err != nil {
		log.Warn("sign in failed", slog.String("kind", string(sess.KindOf(err))), sl.Err(err))
		h.authError(w, r, err)
		return
	}
	log.Info("signed in")
	h.respondLanding(w, r, resolver)
}

// SignUp godoc
// @Summary Регистрация
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body SignUpRequest true "Данные регистрации"
// @Success 200 {object} response.Response "Сессия и адрес перехода"
// @Failure 409 {object} response.ErrorResponse "Email уже зарегистрирован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или слабый пароль"
// @Failure 503 {object} response.ErrorResponse "Бэкенд недоступен"
// @Router /auth/sign-up [post]
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.SignUp"
	log := h.requestLog(r, op)

	var req SignUpRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	resolver, ok := h.resolver(w, r, log)
	if !ok {
		return
	}

	if err := resolver.SignUp(r.Context(), req.Email, req.Password, req.FullName); err != nil {
		log.Warn("sign up failed", slog.String("kind", string(sess.KindOf(err))), sl.Err(err))
		h.authError(w, r, err)
		return
	}
	log.Info("signed up")
	h.respondLanding(w, r, resolver)
}

// SignOut godoc
// @Summary Выход
// @Description Состояние сбрасывается сразу, ошибка отзыва токена на бэкенде только логируется.
// @Description Браузерная сессия закрывается, cookie сессии удаляется.
// @Tags Auth
// @Produce  json
// @Success 200 {object} response.Response "Адрес страницы входа"
// @Router /auth/sign-out [post]
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.SignOut"
	log := h.requestLog(r, op)

	resolver, ok := h.resolver(w, r, log)
	if !ok {
		return
	}
	if err := resolver.SignOut(r.Context()); err != nil {
		log.Error("failed to revoke session", sl.Err(err))
	}
	middlewarectx.EndSession(r.Context())
	log.Info("signed out")
	render.JSON(w, r, response.StatusOKWithData(View{
		State:    resolver.State(),
		Location: h.routes.SignIn,
	}))
}

// Current godoc
// @Summary Текущее состояние сессии
// @Tags Auth
// @Produce  json
// @Success 200 {object} response.Response "Состояние и адрес перехода"
// @Success 202 {object} response.Response "Профиль ещё загружается"
// @Router /auth/session [get]
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.session.Current"
	log := h.requestLog(r, op)

	resolver, ok := h.resolver(w, r, log)
	if !ok {
		return
	}
	h.respondLanding(w, r, resolver)
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return false
	}
	return true
}

func (h *Handler) resolver(w http.ResponseWriter, r *http.Request, log *slog.Logger) (middlewarectx.Resolver, bool) {
	resolver, ok := middlewarectx.ResolverFrom(r.Context())
	if !ok {
		log.Error("resolver not found in context")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return nil, false
	}
	return resolver, true
}

// respondLanding ждёт загрузки профиля не дольше pendingWait и отвечает адресом,
// куда guard направит пользователя с этим состоянием.
func (h *Handler) respondLanding(w http.ResponseWriter, r *http.Request, resolver middlewarectx.Resolver) {
	st := resolver.State()
	if st.Loading && h.pendingWait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), h.pendingWait)
		_ = resolver.Wait(ctx)
		cancel()
		st = resolver.State()
	}

	d := guard.Landing(st, h.routes)
	if d.Outcome == guard.Pending {
		w.Header().Set("Retry-After", "1")
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, response.Pending())
		return
	}
	render.JSON(w, r, response.StatusOKWithData(View{State: st, Location: d.Location}))
}

func (h *Handler) authError(w http.ResponseWriter, r *http.Request, err error) {
	kind := sess.KindOf(err)
	status := http.StatusInternalServerError
	msg := "could not complete request"
	switch kind {
	case sess.KindInvalidCredentials:
		status, msg = http.StatusUnauthorized, "invalid email or password"
	case sess.KindDuplicateEmail:
		status, msg = http.StatusConflict, "email already registered"
	case sess.KindWeakPassword:
		status, msg = http.StatusUnprocessableEntity, "password is too weak"
	case sess.KindValidation:
		status, msg = http.StatusUnprocessableEntity, "invalid input"
	case sess.KindNetwork:
		status, msg = http.StatusServiceUnavailable, "service unavailable, try again"
	}
	if errors.Is(err, context.Canceled) {
		status = http.StatusRequestTimeout
	}
	render.Status(r, status)
	render.JSON(w, r, response.ErrorKind(string(kind), msg))
}
