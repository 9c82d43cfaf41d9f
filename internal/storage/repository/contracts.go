package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

// CreateContract сохраняет контракт с клиентом пользователя.
func (s *Storage) CreateContract(ctx context.Context, c models.Contract) (*models.Contract, error) {
	const op = "storage.CreateContract"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if c.Status == "" {
		c.Status = models.ContractDraft
	}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO contracts (user_id, client_id, title, value, status, starts_at, ends_at, notes)
		 SELECT $1, cl.id, $3, $4, $5, $6, $7, $8 FROM clients cl WHERE cl.id = $2 AND cl.user_id = $1
		 RETURNING id, created_at`,
		c.UserID, c.ClientID, c.Title, c.Value, c.Status, c.StartsAt, c.EndsAt, c.Notes).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &c, nil
}

// ListContracts возвращает контракты с именем клиента, поиск по названию и клиенту.
func (s *Storage) ListContracts(ctx context.Context, userID, search string) ([]models.Contract, error) {
	const op = "storage.ListContracts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT ct.id, ct.user_id, ct.client_id, cl.name, ct.title, ct.value, ct.status,
		        ct.starts_at, ct.ends_at, ct.notes, ct.created_at
		 FROM contracts ct
		 JOIN clients cl ON cl.id = ct.client_id
		 WHERE ct.user_id = $1
		   AND ($2 = '' OR ct.title ILIKE $2 OR cl.name ILIKE $2)
		 ORDER BY ct.created_at DESC`, userID, likePattern(search))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Contract
	for rows.Next() {
		var c models.Contract
		var startsAt, endsAt sql.NullTime
		var notes sql.NullString
		if err = rows.Scan(&c.ID, &c.UserID, &c.ClientID, &c.ClientName, &c.Title, &c.Value, &c.Status,
			&startsAt, &endsAt, &notes, &c.CreatedAt); err != nil {
			return nil, wrap(op, err)
		}
		c.StartsAt = nullTime(startsAt)
		c.EndsAt = nullTime(endsAt)
		c.Notes = nullString(notes)
		result = append(result, c)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// UpdateContract перезаписывает поля контракта пользователя.
func (s *Storage) UpdateContract(ctx context.Context, c models.Contract) (*models.Contract, error) {
	const op = "storage.UpdateContract"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.DB.QueryRowContext(ctx,
		`UPDATE contracts SET client_id = $3, title = $4, value = $5, status = $6,
		        starts_at = $7, ends_at = $8, notes = $9
		 WHERE id = $1 AND user_id = $2
		   AND EXISTS (SELECT 1 FROM clients cl WHERE cl.id = $3 AND cl.user_id = $2)
		 RETURNING created_at`,
		c.ID, c.UserID, c.ClientID, c.Title, c.Value, c.Status, c.StartsAt, c.EndsAt, c.Notes).
		Scan(&c.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &c, nil
}

// DeleteContract удаляет контракт пользователя.
func (s *Storage) DeleteContract(ctx context.Context, userID, contractID string) error {
	const op = "storage.DeleteContract"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM contracts WHERE id = $1 AND user_id = $2`, contractID, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}
