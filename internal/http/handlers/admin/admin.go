// Package admin HTTP-обработчики панели администратора. Стоят за guard с требованием роли admin.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	adminsvc "github.com/magabrotheeeer/devmanager/internal/services/admin"
)

// Service бизнес-логика админки.
type Service interface {
	Overview(ctx context.Context) (*models.AdminOverview, error)
	Users(ctx context.Context, f models.UserFilter) ([]models.UserRecord, error)
	DeleteUser(ctx context.Context, adminID, userID string) error
	SetRole(ctx context.Context, adminID, userID string, role models.Role) error
	Plans(ctx context.Context) ([]models.Plan, error)
	UpdatePlan(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error)
	SetPlanActive(ctx context.Context, planID string, active bool) (*models.Plan, error)
	Payments(ctx context.Context, f models.PaymentFilter) (*adminsvc.PaymentReport, error)
	ExportPayments(ctx context.Context, f models.PaymentFilter, w io.Writer) error
}

// RoleRequest новая роль пользователя
type RoleRequest struct {
	Role models.Role `json:"role"`
}

// PlanActiveRequest включение или скрытие тарифа
type PlanActiveRequest struct {
	Active bool `json:"active"`
}

// Handler обработчики админки.
type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, now: time.Now}
}

// Overview godoc
// @Summary Сводка админки
// @Tags Admin
// @Produce  json
// @Success 200 {object} response.Response "Пользователи, подписки и выручка"
// @Router /admin/overview [get]
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.Overview"
	log := h.requestLog(r, op)

	o, err := h.service.Overview(r.Context())
	if err != nil {
		log.Error("failed to load overview", sl.Err(err))
		response.FromError(w, r, err, "could not load overview")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(o))
}

// Users godoc
// @Summary Пользователи
// @Tags Admin
// @Produce  json
// @Param search query string false "Поиск по имени и email"
// @Param status query string false "all, active или inactive"
// @Param plan query string false "Название тарифа"
// @Success 200 {object} response.Response "Пользователи с подпиской"
// @Router /admin/users [get]
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.Users"
	log := h.requestLog(r, op)

	q := r.URL.Query()
	users, err := h.service.Users(r.Context(), models.UserFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Plan:   q.Get("plan"),
	})
	if err != nil {
		log.Error("failed to list users", sl.Err(err))
		response.FromError(w, r, err, "could not load users")
		return
	}
	render.JSON(w, r, response.StatusOKWithData(users))
}

// DeleteUser godoc
// @Summary Удалить пользователя
// @Description Открытые сессии пользователя завершаются.
// @Tags Admin
// @Param userID path string true "ID пользователя"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse "Нельзя удалить себя"
// @Router /admin/users/{userID} [delete]
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.DeleteUser"
	log := h.requestLog(r, op)

	adminID, ok := h.adminID(w, r, log)
	if !ok {
		return
	}
	err := h.service.DeleteUser(r.Context(), adminID, chi.URLParam(r, "userID"))
	if h.failed(w, r, log, err, "could not delete user") {
		return
	}
	render.JSON(w, r, response.OK())
}

// SetRole godoc
// @Summary Назначить роль
// @Tags Admin
// @Accept  json
// @Param userID path string true "ID пользователя"
// @Param request body RoleRequest true "Роль"
// @Success 200 {object} response.Response
// @Router /admin/users/{userID}/role [put]
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.SetRole"
	log := h.requestLog(r, op)

	var req RoleRequest
	if !decode(w, r, log, &req) {
		return
	}
	adminID, ok := h.adminID(w, r, log)
	if !ok {
		return
	}
	err := h.service.SetRole(r.Context(), adminID, chi.URLParam(r, "userID"), req.Role)
	if h.failed(w, r, log, err, "could not change role") {
		return
	}
	render.JSON(w, r, response.OK())
}

// Plans godoc
// @Summary Все тарифы
// @Tags Admin
// @Produce  json
// @Success 200 {object} response.Response "Тарифы"
// @Router /admin/plans [get]
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.Plans"
	log := h.requestLog(r, op)

	plans, err := h.service.Plans(r.Context())
	if h.failed(w, r, log, err, "could not load plans") {
		return
	}
	render.JSON(w, r, response.StatusOKWithData(plans))
}

// UpdatePlan godoc
// @Summary Изменить тариф
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param planID path string true "ID тарифа"
// @Param request body models.PlanUpdate true "Название и цена"
// @Success 200 {object} response.Response "Тариф"
// @Router /admin/plans/{planID} [put]
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.UpdatePlan"
	log := h.requestLog(r, op)

	var upd models.PlanUpdate
	if !decode(w, r, log, &upd) {
		return
	}
	plan, err := h.service.UpdatePlan(r.Context(), chi.URLParam(r, "planID"), upd)
	if h.failed(w, r, log, err, "could not update plan") {
		return
	}
	render.JSON(w, r, response.StatusOKWithData(plan))
}

// SetPlanActive godoc
// @Summary Включить или скрыть тариф
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param planID path string true "ID тарифа"
// @Param request body PlanActiveRequest true "Активность"
// @Success 200 {object} response.Response "Тариф"
// @Router /admin/plans/{planID}/active [put]
func (h *Handler) SetPlanActive(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.SetPlanActive"
	log := h.requestLog(r, op)

	var req PlanActiveRequest
	if !decode(w, r, log, &req) {
		return
	}
	plan, err := h.service.SetPlanActive(r.Context(), chi.URLParam(r, "planID"), req.Active)
	if h.failed(w, r, log, err, "could not update plan") {
		return
	}
	render.JSON(w, r, response.StatusOKWithData(plan))
}

// Payments godoc
// @Summary Платежи
// @Tags Admin
// @Produce  json
// @Param search query string false "Поиск по имени и email"
// @Param status query string false "Статус платежа"
// @Param period query string false "all, current_month, last_month, last_3_months"
// @Success 200 {object} response.Response "Платежи и выручка"
// @Router /admin/payments [get]
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.Payments"
	log := h.requestLog(r, op)

	report, err := h.service.Payments(r.Context(), paymentFilter(r))
	if h.failed(w, r, log, err, "could not load payments") {
		return
	}
	render.JSON(w, r, response.StatusOKWithData(report))
}

// ExportPayments godoc
// @Summary Выгрузка платежей в CSV
// @Tags Admin
// @Produce  text/csv
// @Param search query string false "Поиск по имени и email"
// @Param status query string false "Статус платежа"
// @Param period query string false "all, current_month, last_month, last_3_months"
// @Success 200 {file} file "CSV"
// @Router /admin/payments/export [get]
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.ExportPayments"
	log := h.requestLog(r, op)

	// файл собирается целиком, чтобы ошибка не оставила обрезанный ответ с кодом 200
	var buf bytes.Buffer
	if h.failed(w, r, log, h.service.ExportPayments(r.Context(), paymentFilter(r), &buf), "could not export payments") {
		return
	}
	name := fmt.Sprintf("payments-%s.csv", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := buf.WriteTo(w); err != nil {
		log.Error("failed to write csv", sl.Err(err))
	}
}

func paymentFilter(r *http.Request) models.PaymentFilter {
	q := r.URL.Query()
	return models.PaymentFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Period: models.PaymentPeriod(q.Get("period")),
	}
}

func (h *Handler) failed(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, fallback string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, adminsvc.ErrSelfAction):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error(adminsvc.ErrSelfAction.Error()))
	case errors.Is(err, adminsvc.ErrUnknownPeriod):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(adminsvc.ErrUnknownPeriod.Error()))
	default:
		log.Error("request failed", sl.Err(err))
		response.FromError(w, r, err, fallback)
	}
	return true
}

func (h *Handler) adminID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	id, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("admin not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
	}
	return id, ok
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
