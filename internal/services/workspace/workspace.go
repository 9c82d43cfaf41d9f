// Package workspace рабочее пространство участника: клиенты, проекты, задачи,
// контракты, уведомления и сводка главной страницы. Все операции ограничены
// владельцем записи.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

const (
	// ExpiryWindowDays горизонт ближайших истечений на главной странице
	ExpiryWindowDays = 30
	// ExpiryLimit сколько истечений показывать
	ExpiryLimit = 5
)

// ErrInvalidPeriod дата окончания контракта раньше даты начала
var ErrInvalidPeriod = errors.New("contract ends before it starts")

// Repository хранилище рабочего пространства
type Repository interface {
	CreateClient(ctx context.Context, c models.Client) (*models.Client, error)
	GetClient(ctx context.Context, userID, clientID string) (*models.Client, error)
	ListClients(ctx context.Context, userID, search string) ([]models.Client, error)
	UpdateClient(ctx context.Context, c models.Client) (*models.Client, error)
	DeleteClient(ctx context.Context, userID, clientID string) error
	ListClientExpiries(ctx context.Context, userID string) ([]models.ExpiryCandidate, error)

	CreateProject(ctx context.Context, p models.Project) (*models.Project, error)
	ListProjects(ctx context.Context, userID, search string) ([]models.Project, error)
	UpdateProject(ctx context.Context, p models.Project) (*models.Project, error)
	DeleteProject(ctx context.Context, userID, projectID string) error
	CreateTask(ctx context.Context, t models.Task) (*models.Task, error)
	ListTasks(ctx context.Context, userID, projectID string) ([]models.Task, error)
	UpdateTaskStatus(ctx context.Context, userID, taskID string, status models.TaskStatus) error
	DeleteTask(ctx context.Context, userID, taskID string) error

	CreateContract(ctx context.Context, c models.Contract) (*models.Contract, error)
	ListContracts(ctx context.Context, userID, search string) ([]models.Contract, error)
	UpdateContract(ctx context.Context, c models.Contract) (*models.Contract, error)
	DeleteContract(ctx context.Context, userID, contractID string) error

	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	CountWorkspace(ctx context.Context, userID string) (*models.Overview, error)
}

// Service сервис рабочего пространства.
type Service struct {
	repo     Repository
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New создаёт Service.
func New(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Overview счётчики рабочего пространства и пять ближайших истечений хостинга
// и доменов в пределах 30 дней, от ближайшего к дальнему.
func (s *Service) Overview(ctx context.Context, userID string) (*models.Overview, error) {
	const op = "workspace.Overview"

	overview, err := s.repo.CountWorkspace(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	candidates, err := s.repo.ListClientExpiries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	overview.Expiries = UpcomingExpiries(candidates, s.now(), ExpiryWindowDays, ExpiryLimit)
	return overview, nil
}

// UpcomingExpiries истечения кандидатов в окне window дней, не более limit штук.
func UpcomingExpiries(candidates []models.ExpiryCandidate, now time.Time, window, limit int) []models.Expiry {
	expiries := make([]models.Expiry, 0, len(candidates))
	for _, c := range candidates {
		expiries = append(expiries, c.Expiries(now, window)...)
	}
	sort.SliceStable(expiries, func(i, j int) bool {
		return expiries[i].DaysLeft < expiries[j].DaysLeft
	})
	if len(expiries) > limit {
		expiries = expiries[:limit]
	}
	return expiries
}

// CreateClient сохраняет клиента.
func (s *Service) CreateClient(ctx context.Context, userID string, c models.Client) (*models.Client, error) {
	const op = "workspace.CreateClient"
	if err := s.validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.UserID = userID
	created, err := s.repo.CreateClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("client created", sl.Op(op), slog.String("user_id", userID), slog.String("client_id", created.ID))
	return created, nil
}

// Client клиент пользователя по id.
func (s *Service) Client(ctx context.Context, userID, clientID string) (*models.Client, error) {
	const op = "workspace.Client"
	c, err := s.repo.GetClient(ctx, userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Clients клиенты пользователя, search фильтрует по имени и email.
func (s *Service) Clients(ctx context.Context, userID, search string) ([]models.Client, error) {
	const op = "workspace.Clients"
	clients, err := s.repo.ListClients(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return clients, nil
}

// UpdateClient перезаписывает клиента.
func (s *Service) UpdateClient(ctx context.Context, userID, clientID string, c models.Client) (*models.Client, error) {
	const op = "workspace.UpdateClient"
	if err := s.validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.ID = clientID
	c.UserID = userID
	updated, err := s.repo.UpdateClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// DeleteClient удаляет клиента вместе с проектами и контрактами.
func (s *Service) DeleteClient(ctx context.Context, userID, clientID string) error {
	const op = "workspace.DeleteClient"
	if err := s.repo.DeleteClient(ctx, userID, clientID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("client deleted", sl.Op(op), slog.String("user_id", userID), slog.String("client_id", clientID))
	return nil
}

// CreateProject сохраняет проект, статус по умолчанию active.
func (s *Service) CreateProject(ctx context.Context, userID string, p models.Project) (*models.Project, error) {
	const op = "workspace.CreateProject"
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	p.UserID = userID
	created, err := s.repo.CreateProject(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// Projects проекты пользователя с числом задач.
func (s *Service) Projects(ctx context.Context, userID, search string) ([]models.Project, error) {
	const op = "workspace.Projects"
	projects, err := s.repo.ListProjects(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return projects, nil
}

// UpdateProject перезаписывает проект.
func (s *Service) UpdateProject(ctx context.Context, userID, projectID string, p models.Project) (*models.Project, error) {
	const op = "workspace.UpdateProject"
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	p.ID = projectID
	p.UserID = userID
	updated, err := s.repo.UpdateProject(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// DeleteProject удаляет проект с задачами.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	const op = "workspace.DeleteProject"
	if err := s.repo.DeleteProject(ctx, userID, projectID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateTask добавляет задачу в проект, статус по умолчанию todo.
func (s *Service) CreateTask(ctx context.Context, userID, projectID string, t models.Task) (*models.Task, error) {
	const op = "workspace.CreateTask"
	if err := s.validate.Struct(t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if t.Status == "" {
		t.Status = models.TaskTodo
	}
	t.UserID = userID
	t.ProjectID = projectID
	created, err := s.repo.CreateTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// Tasks задачи проекта.
func (s *Service) Tasks(ctx context.Context, userID, projectID string) ([]models.Task, error) {
	const op = "workspace.Tasks"
	tasks, err := s.repo.ListTasks(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

// MoveTask меняет статус задачи.
func (s *Service) MoveTask(ctx context.Context, userID, taskID string, status models.TaskStatus) error {
	const op = "workspace.MoveTask"
	if err := s.validate.Var(string(status), "required,oneof=todo in_progress done"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.UpdateTaskStatus(ctx, userID, taskID, status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteTask удаляет задачу.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	const op = "workspace.DeleteTask"
	if err := s.repo.DeleteTask(ctx, userID, taskID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateContract сохраняет контракт, статус по умолчанию draft.
func (s *Service) CreateContract(ctx context.Context, userID string, c models.Contract) (*models.Contract, error) {
	const op = "workspace.CreateContract"
	if err := s.validateContract(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.Status == "" {
		c.Status = models.ContractDraft
	}
	c.UserID = userID
	created, err := s.repo.CreateContract(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// Contracts контракты пользователя.
func (s *Service) Contracts(ctx context.Context, userID, search string) ([]models.Contract, error) {
	const op = "workspace.Contracts"
	contracts, err := s.repo.ListContracts(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return contracts, nil
}

// UpdateContract перезаписывает контракт.
func (s *Service) UpdateContract(ctx context.Context, userID, contractID string, c models.Contract) (*models.Contract, error) {
	const op = "workspace.UpdateContract"
	if err := s.validateContract(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.Status == "" {
		c.Status = models.ContractDraft
	}
	c.ID = contractID
	c.UserID = userID
	updated, err := s.repo.UpdateContract(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// DeleteContract удаляет контракт.
func (s *Service) DeleteContract(ctx context.Context, userID, contractID string) error {
	const op = "workspace.DeleteContract"
	if err := s.repo.DeleteContract(ctx, userID, contractID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Notifications уведомления пользователя, новые сверху.
func (s *Service) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	const op = "workspace.Notifications"
	list, err := s.repo.ListNotifications(ctx, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// MarkRead отмечает уведомление прочитанным.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	const op = "workspace.MarkRead"
	if err := s.repo.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) validateContract(c models.Contract) error {
	if err := s.validate.Struct(c); err != nil {
		return err
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		return ErrInvalidPeriod
	}
	return nil
}
