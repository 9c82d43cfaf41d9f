// Package workspace HTTP-обработчики кабинета участника. Все обработчики стоят за
// guard с требованием подписки и берут id пользователя из допущенного снимка сессии.
package workspace

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
	workspacesvc "github.com/magabrotheeeer/devmanager/internal/services/workspace"
)

// Service бизнес-логика рабочего пространства.
type Service interface {
	Overview(ctx context.Context, userID string) (*models.Overview, error)

	CreateClient(ctx context.Context, userID string, c models.Client) (*models.Client, error)
	Client(ctx context.Context, userID, clientID string) (*models.Client, error)
	Clients(ctx context.Context, userID, search string) ([]models.Client, error)
	UpdateClient(ctx context.Context, userID, clientID string, c models.Client) (*models.Client, error)
	DeleteClient(ctx context.Context, userID, clientID string) error

	CreateProject(ctx context.Context, userID string, p models.Project) (*models.Project, error)
	Projects(ctx context.Context, userID, search string) ([]models.Project, error)
	UpdateProject(ctx context.Context, userID, projectID string, p models.Project) (*models.Project, error)
	DeleteProject(ctx context.Context, userID, projectID string) error
	CreateTask(ctx context.Context, userID, projectID string, t models.Task) (*models.Task, error)
	Tasks(ctx context.Context, userID, projectID string) ([]models.Task, error)
	MoveTask(ctx context.Context, userID, taskID string, status models.TaskStatus) error
	DeleteTask(ctx context.Context, userID, taskID string) error

	CreateContract(ctx context.Context, userID string, c models.Contract) (*models.Contract, error)
	Contracts(ctx context.Context, userID, search string) ([]models.Contract, error)
	UpdateContract(ctx context.Context, userID, contractID string, c models.Contract) (*models.Contract, error)
	DeleteContract(ctx context.Context, userID, contractID string) error

	Notifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// MoveTaskRequest новый статус задачи на доске
type MoveTaskRequest struct {
	Status models.TaskStatus `json:"status"`
}

// Handler обработчики кабинета.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Overview godoc
// @Summary Сводка кабинета
// @Description Счётчики клиентов, проектов, контрактов, непрочитанных уведомлений и пять ближайших истечений.
// @Tags Dashboard
// @Produce  json
// @Success 200 {object} response.Response "Сводка"
// @Router /dashboard/overview [get]
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.Overview", func(ctx context.Context, userID string) (any, error) {
		return h.service.Overview(ctx, userID)
	})
}

// ListClients godoc
// @Summary Клиенты
// @Tags Clients
// @Produce  json
// @Param search query string false "Поиск по имени и email"
// @Success 200 {object} response.Response "Список клиентов"
// @Router /dashboard/clients [get]
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.ListClients", func(ctx context.Context, userID string) (any, error) {
		return h.service.Clients(ctx, userID, r.URL.Query().Get("search"))
	})
}

// GetClient godoc
// @Summary Клиент
// @Tags Clients
// @Produce  json
// @Param clientID path string true "ID клиента"
// @Success 200 {object} response.Response "Клиент"
// @Failure 404 {object} response.ErrorResponse "Клиент не найден"
// @Router /dashboard/clients/{clientID} [get]
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.GetClient", func(ctx context.Context, userID string) (any, error) {
		return h.service.Client(ctx, userID, chi.URLParam(r, "clientID"))
	})
}

// CreateClient godoc
// @Summary Новый клиент
// @Tags Clients
// @Accept  json
// @Produce  json
// @Param request body models.Client true "Клиент"
// @Success 201 {object} response.Response "Созданный клиент"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /dashboard/clients [post]
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	h.serveBody(w, r, "handlers.workspace.CreateClient", &c, http.StatusCreated, func(ctx context.Context, userID string) (any, error) {
		return h.service.CreateClient(ctx, userID, c)
	})
}

// UpdateClient godoc
// @Summary Изменить клиента
// @Tags Clients
// @Accept  json
// @Produce  json
// @Param clientID path string true "ID клиента"
// @Param request body models.Client true "Клиент"
// @Success 200 {object} response.Response "Клиент"
// @Router /dashboard/clients/{clientID} [put]
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	h.serveBody(w, r, "handlers.workspace.UpdateClient", &c, http.StatusOK, func(ctx context.Context, userID string) (any, error) {
		return h.service.UpdateClient(ctx, userID, chi.URLParam(r, "clientID"), c)
	})
}

// DeleteClient godoc
// @Summary Удалить клиента вместе с проектами и контрактами
// @Tags Clients
// @Param clientID path string true "ID клиента"
// @Success 200 {object} response.Response
// @Router /dashboard/clients/{clientID} [delete]
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.DeleteClient", func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.DeleteClient(ctx, userID, chi.URLParam(r, "clientID"))
	})
}

// ListProjects godoc
// @Summary Проекты
// @Tags Projects
// @Produce  json
// @Param search query string false "Поиск по названию"
// @Success 200 {object} response.Response "Проекты с числом задач"
// @Router /dashboard/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.ListProjects", func(ctx context.Context, userID string) (any, error) {
		return h.service.Projects(ctx, userID, r.URL.Query().Get("search"))
	})
}

// CreateProject godoc
// @Summary Новый проект
// @Tags Projects
// @Accept  json
// @Produce  json
// @Param request body models.Project true "Проект"
// @Success 201 {object} response.Response "Проект"
// @Router /dashboard/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	h.serveBody(w, r, "handlers.workspace.CreateProject", &p, http.StatusCreated, func(ctx context.Context, userID string) (any, error) {
		return h.service.CreateProject(ctx, userID, p)
	})
}

// UpdateProject godoc
// @Summary Изменить проект
// @Tags Projects
// @Accept  json
// @Produce  json
// @Param projectID path string true "ID проекта"
// @Param request body models.Project true "Проект"
// @Success 200 {object} response.Response "Проект"
// @Router /dashboard/projects/{projectID} [put]
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	h.serveBody(w, r, "handlers.workspace.UpdateProject", &p, http.StatusOK, func(ctx context.Context, userID string) (any, error) {
		return h.service.UpdateProject(ctx, userID, chi.URLParam(r, "projectID"), p)
	})
}

// DeleteProject godoc
// @Summary Удалить проект с задачами
// @Tags Projects
// @Param projectID path string true "ID проекта"
// @Success 200 {object} response.Response
// @Router /dashboard/projects/{projectID} [delete]
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.DeleteProject", func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.DeleteProject(ctx, userID, chi.URLParam(r, "projectID"))
	})
}

// ListTasks godoc
// @Summary Задачи проекта
// @Tags Projects
// @Produce  json
// @Param projectID path string true "ID проекта"
// @Success 200 {object} response.Response "Задачи"
// @Router /dashboard/projects/{projectID}/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.ListTasks", func(ctx context.Context, userID string) (any, error) {
		return h.service.Tasks(ctx, userID, chi.URLParam(r, "projectID"))
	})
}

// CreateTask godoc
// @Summary Новая задача
// @Tags Projects
// @Accept  json
// @Produce  json
// @Param projectID path string true "ID проекта"
// @Param request body models.Task true "Задача"
// @Success 201 {object} response.Response "Задача"
// @Router /dashboard/projects/{projectID}/tasks [post]
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	h.serveBody(w, r, "handlers.workspace.CreateTask", &t, http.StatusCreated, func(ctx context.Context, userID string) (any, error) {
		return h.service.CreateTask(ctx, userID, chi.URLParam(r, "projectID"), t)
	})
}

// MoveTask godoc
// @Summary Сменить статус задачи
// @Tags Projects
// @Accept  json
// @Param taskID path string true "ID задачи"
// @Param request body MoveTaskRequest true "Новый статус"
// @Success 200 {object} response.Response
// @Router /dashboard/tasks/{taskID}/status [patch]
func (h *Handler) MoveTask(w http.ResponseWriter, r *http.Request) {
	var req MoveTaskRequest
	h.serveBody(w, r, "handlers.workspace.MoveTask", &req, http.StatusOK, func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.MoveTask(ctx, userID, chi.URLParam(r, "taskID"), req.Status)
	})
}

// DeleteTask godoc
// @Summary Удалить задачу
// @Tags Projects
// @Param taskID path string true "ID задачи"
// @Success 200 {object} response.Response
// @Router /dashboard/tasks/{taskID} [delete]
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.DeleteTask", func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.DeleteTask(ctx, userID, chi.URLParam(r, "taskID"))
	})
}

// ListContracts godoc
// @Summary Контракты
// @Tags Contracts
// @Produce  json
// @Param search query string false "Поиск по названию"
// @Success 200 {object} response.Response "Контракты"
// @Router /dashboard/contracts [get]
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.ListContracts", func(ctx context.Context, userID string) (any, error) {
		return h.service.Contracts(ctx, userID, r.URL.Query().Get("search"))
	})
}

// CreateContract godoc
// @Summary Новый контракт
// @Tags Contracts
// @Accept  json
// @Produce  json
// @Param request body models.Contract true "Контракт"
// @Success 201 {object} response.Response "Контракт"
// @Router /dashboard/contracts [post]
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var c models.Contract
	h.serveBody(w, r, "handlers.workspace.CreateContract", &c, http.StatusCreated, func(ctx context.Context, userID string) (any, error) {
		return h.service.CreateContract(ctx, userID, c)
	})
}

// UpdateContract godoc
// @Summary Изменить контракт
// @Tags Contracts
// @Accept  json
// @Produce  json
// @Param contractID path string true "ID контракта"
// @Param request body models.Contract true "Контракт"
// @Success 200 {object} response.Response "Контракт"
// @Router /dashboard/contracts/{contractID} [put]
func (h *Handler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	var c models.Contract
	h.serveBody(w, r, "handlers.workspace.UpdateContract", &c, http.StatusOK, func(ctx context.Context, userID string) (any, error) {
		return h.service.UpdateContract(ctx, userID, chi.URLParam(r, "contractID"), c)
	})
}

// DeleteContract godoc
// @Summary Удалить контракт
// @Tags Contracts
// @Param contractID path string true "ID контракта"
// @Success 200 {object} response.Response
// @Router /dashboard/contracts/{contractID} [delete]
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.DeleteContract", func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.DeleteContract(ctx, userID, chi.URLParam(r, "contractID"))
	})
}

// ListNotifications godoc
// @Summary Уведомления
// @Tags Notifications
// @Produce  json
// @Param unread query bool false "Только непрочитанные"
// @Success 200 {object} response.Response "Уведомления"
// @Router /dashboard/notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.ListNotifications", func(ctx context.Context, userID string) (any, error) {
		return h.service.Notifications(ctx, userID, r.URL.Query().Get("unread") == "true")
	})
}

// MarkRead godoc
// @Summary Отметить уведомление прочитанным
// @Tags Notifications
// @Param notificationID path string true "ID уведомления"
// @Success 200 {object} response.Response
// @Router /dashboard/notifications/{notificationID}/read [post]
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.workspace.MarkRead", func(ctx context.Context, userID string) (any, error) {
		return nil, h.service.MarkRead(ctx, userID, chi.URLParam(r, "notificationID"))
	})
}

// serve общий каркас обработчика: лог с op и request_id, id пользователя из контекста,
// ответ с данными или ошибкой сервиса.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, op string, call func(ctx context.Context, userID string) (any, error)) {
	h.respond(w, r, h.requestLog(r, op), http.StatusOK, call)
}

func (h *Handler) serveBody(w http.ResponseWriter, r *http.Request, op string, dst any, status int, call func(ctx context.Context, userID string) (any, error)) {
	log := h.requestLog(r, op)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	h.respond(w, r, log, status, call)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, log *slog.Logger, status int, call func(ctx context.Context, userID string) (any, error)) {
	userID, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("user not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	data, err := call(r.Context(), userID)
	if errors.Is(err, workspacesvc.ErrInvalidPeriod) {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err != nil {
		log.Error("request failed", sl.Err(err))
		response.FromError(w, r, err, "could not complete request")
		return
	}

	if status != http.StatusOK {
		render.Status(r, status)
	}
	if data == nil {
		render.JSON(w, r, response.OK())
		return
	}
	render.JSON(w, r, response.StatusOKWithData(data))
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}
