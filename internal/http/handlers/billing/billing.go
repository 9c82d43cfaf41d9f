// Package billing HTTP-обработчики выбора тарифа, имитации оплаты и страницы подписки.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	billingsvc "github.com/magabrotheeeer/devmanager/internal/services/billing"
)

// Service бизнес-логика оплаты.
type Service interface {
	ActivePlans(ctx context.Context) ([]models.Plan, error)
	Plan(ctx context.Context, planID string) (*models.Plan, error)
	Checkout(ctx context.Context, userID string, form models.CardForm) (*models.Subscription, error)
	Overview(ctx context.Context, userID string) (*billingsvc.Overview, error)
}

// CheckoutResult оформленная подписка и адрес кабинета
type CheckoutResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Location     string               `json:"location"`
}

// Handler обработчики оплаты.
type Handler struct {
	log        *slog.Logger
	service    Service
	memberArea string
}

// New создаёт Handler. memberArea адрес, куда ведёт успешная оплата.
func New(log *slog.Logger, service Service, memberArea string) *Handler {
	return &Handler{log: log, service: service, memberArea: memberArea}
}

// Plans godoc
// @Summary Активные тарифы
// @Tags Billing
// @Produce  json
// @Success 200 {object} response.Response "Список тарифов"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /plans [get]
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.Plans"
	log := h.requestLog(r, op)

	plans, err := h.service.ActivePlans(r.Context())
	if err != nil {
		log.Error("failed to list plans", sl.Err(err))
		response.FromError(w, r, err, "could not load plans")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(plans))
}

// Plan godoc
// @Summary Тариф для страницы оплаты
// @Tags Billing
// @Produce  json
// @Param planID path string true "ID тарифа"
// @Success 200 {object} response.Response "Тариф"
// @Failure 404 {object} response.ErrorResponse "Тариф не найден"
// @Router /plans/{planID} [get]
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.Plan"
	log := h.requestLog(r, op)

	plan, err := h.service.Plan(r.Context(), chi.URLParam(r, "planID"))
	if errors.Is(err, billingsvc.ErrPlanNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("plan not found"))
		return
	}
	if err != nil {
		log.Error("failed to load plan", sl.Err(err))
		response.FromError(w, r, err, "could not load plan")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(plan))
}

// Checkout godoc
// @Summary Оплата тарифа картой
// @Description Платёж имитируется. После оплаты профиль сессии перечитывается, и ответ содержит адрес кабинета.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param request body models.CardForm true "Тариф и данные карты"
// @Success 200 {object} response.Response "Подписка оформлена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Тариф не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации карты"
// @Router /checkout [post]
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.Checkout"
	log := h.requestLog(r, op)

	var form models.CardForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	userID, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("user not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	sub, err := h.service.Checkout(r.Context(), userID, form)
	var cardErr *billingsvc.CardError
	switch {
	case errors.As(err, &cardErr):
		log.Warn("card rejected", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ErrorKind(cardErr.Field, cardErr.Error()))
		return
	case errors.Is(err, billingsvc.ErrPlanNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("plan not found"))
		return
	case err != nil:
		log.Error("checkout failed", sl.Err(err))
		response.FromError(w, r, err, "could not complete payment")
		return
	}

	// кабинет пустит пользователя только после того, как резолвер увидит подписку
	if resolver, ok := middlewarectx.ResolverFrom(r.Context()); ok {
		if err = resolver.RefreshProfile(r.Context()); err != nil {
			log.Error("failed to refresh profile after checkout", sl.Err(err))
		}
	}

	log.Info("checkout completed", slog.String("subscription_id", sub.ID))
	render.JSON(w, r, response.StatusOKWithData(CheckoutResult{
		Subscription: sub,
		Location:     h.memberArea,
	}))
}

// Subscription godoc
// @Summary Подписка и история платежей
// @Tags Billing
// @Produce  json
// @Success 200 {object} response.Response "Подписка и платежи"
// @Router /dashboard/subscription [get]
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.Subscription"
	log := h.requestLog(r, op)

	userID, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("user not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}
	overview, err := h.service.Overview(r.Context(), userID)
	if err != nil {
		log.Error("failed to load subscription", sl.Err(err))
		response.FromError(w, r, err, "could not load subscription")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(overview))
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}
