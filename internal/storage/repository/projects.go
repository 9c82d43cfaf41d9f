package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

// CreateProject сохраняет проект. Клиент должен принадлежать тому же пользователю.
func (s *Storage) CreateProject(ctx context.Context, p models.Project) (*models.Project, error) {
	const op = "storage.CreateProject"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO projects (user_id, client_id, name, description, status)
		 SELECT $1, c.id, $3, $4, $5 FROM clients c WHERE c.id = $2 AND c.user_id = $1
		 RETURNING id, created_at`,
		p.UserID, p.ClientID, p.Name, p.Description, p.Status).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// ListProjects возвращает проекты с именем клиента и числом задач.
// Поиск идёт по названию проекта и имени клиента.
func (s *Storage) ListProjects(ctx context.Context, userID, search string) ([]models.Project, error) {
	const op = "storage.ListProjects"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.client_id, c.name, p.name, p.description, p.status, p.created_at,
		        (SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id)
		 FROM projects p
		 JOIN clients c ON c.id = p.client_id
		 WHERE p.user_id = $1
		   AND ($2 = '' OR p.name ILIKE $2 OR c.name ILIKE $2)
		 ORDER BY p.created_at DESC`, userID, likePattern(search))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Project
	for rows.Next() {
		var p models.Project
		var description sql.NullString
		if err = rows.Scan(&p.ID, &p.UserID, &p.ClientID, &p.ClientName, &p.Name, &description,
			&p.Status, &p.CreatedAt, &p.TasksCount); err != nil {
			return nil, wrap(op, err)
		}
		p.Description = nullString(description)
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// UpdateProject меняет клиента, название, описание и статус проекта.
func (s *Storage) UpdateProject(ctx context.Context, p models.Project) (*models.Project, error) {
	const op = "storage.UpdateProject"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.DB.QueryRowContext(ctx,
		`UPDATE projects SET client_id = $3, name = $4, description = $5, status = $6
		 WHERE id = $1 AND user_id = $2
		   AND EXISTS (SELECT 1 FROM clients c WHERE c.id = $3 AND c.user_id = $2)
		 RETURNING created_at`,
		p.ID, p.UserID, p.ClientID, p.Name, p.Description, p.Status).Scan(&p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// DeleteProject удаляет проект вместе с задачами.
func (s *Storage) DeleteProject(ctx context.Context, userID, projectID string) error {
	const op = "storage.DeleteProject"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// CreateTask добавляет задачу в проект пользователя.
func (s *Storage) CreateTask(ctx context.Context, t models.Task) (*models.Task, error) {
	const op = "storage.CreateTask"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if t.Status == "" {
		t.Status = models.TaskTodo
	}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO tasks (user_id, project_id, title, description, status, due_date)
		 SELECT $1, p.id, $3, $4, $5, $6 FROM projects p WHERE p.id = $2 AND p.user_id = $1
		 RETURNING id, created_at`,
		t.UserID, t.ProjectID, t.Title, t.Description, t.Status, t.DueDate).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &t, nil
}

// ListTasks возвращает задачи проекта пользователя.
func (s *Storage) ListTasks(ctx context.Context, userID, projectID string) ([]models.Task, error) {
	const op = "storage.ListTasks"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, project_id, title, description, status, due_date, created_at
		 FROM tasks WHERE project_id = $1 AND user_id = $2
		 ORDER BY created_at ASC`, projectID, userID)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Task
	for rows.Next() {
		var t models.Task
		var description sql.NullString
		var due sql.NullTime
		if err = rows.Scan(&t.ID, &t.UserID, &t.ProjectID, &t.Title, &description, &t.Status,
			&due, &t.CreatedAt); err != nil {
			return nil, wrap(op, err)
		}
		t.Description = nullString(description)
		t.DueDate = nullTime(due)
		result = append(result, t)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// UpdateTaskStatus меняет статус задачи пользователя.
func (s *Storage) UpdateTaskStatus(ctx context.Context, userID, taskID string, status models.TaskStatus) error {
	const op = "storage.UpdateTaskStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status = $3 WHERE id = $1 AND user_id = $2`, taskID, userID, status)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// DeleteTask удаляет задачу пользователя.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	const op = "storage.DeleteTask"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}
