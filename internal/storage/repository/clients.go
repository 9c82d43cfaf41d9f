package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

const clientColumns = `id, user_id, name, email, site, hosting, hosting_expires_at,
	domain_registrar, domain_expires_at, drive_folder, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	c := &models.Client{}
	var (
		email, site, hosting, registrar, drive, notes sql.NullString
		hostingExp, domainExp                         sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &email, &site, &hosting, &hostingExp,
		&registrar, &domainExp, &drive, &notes, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Email = nullString(email)
	c.Site = nullString(site)
	c.Hosting = nullString(hosting)
	c.HostingExpiresAt = nullTime(hostingExp)
	c.DomainRegistrar = nullString(registrar)
	c.DomainExpiresAt = nullTime(domainExp)
	c.DriveFolder = nullString(drive)
	c.Notes = nullString(notes)
	return c, nil
}

// CreateClient сохраняет клиента пользователя.
func (s *Storage) CreateClient(ctx context.Context, c models.Client) (*models.Client, error) {
	const op = "storage.CreateClient"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO clients (user_id, name, email, site, hosting, hosting_expires_at,
		                      domain_registrar, domain_expires_at, drive_folder, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+clientColumns,
		c.UserID, c.Name, c.Email, c.Site, c.Hosting, c.HostingExpiresAt,
		c.DomainRegistrar, c.DomainExpiresAt, c.DriveFolder, c.Notes)
	created, err := scanClient(row)
	if err != nil {
		return nil, wrap(op, err)
	}
	return created, nil
}

// GetClient возвращает клиента, если он принадлежит userID.
func (s *Storage) GetClient(ctx context.Context, userID, clientID string) (*models.Client, error) {
	const op = "storage.GetClient"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	c, err := scanClient(s.DB.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1 AND user_id = $2`, clientID, userID))
	if err != nil {
		return nil, wrap(op, err)
	}
	return c, nil
}

// ListClients возвращает клиентов пользователя с поиском по имени, email и сайту.
func (s *Storage) ListClients(ctx context.Context, userID, search string) ([]models.Client, error) {
	const op = "storage.ListClients"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients
		 WHERE user_id = $1
		   AND ($2 = '' OR name ILIKE $2 OR email ILIKE $2 OR site ILIKE $2)
		 ORDER BY created_at DESC`, userID, likePattern(search))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// UpdateClient перезаписывает поля клиента пользователя.
func (s *Storage) UpdateClient(ctx context.Context, c models.Client) (*models.Client, error) {
	const op = "storage.UpdateClient"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	updated, err := scanClient(s.DB.QueryRowContext(ctx,
		`UPDATE clients SET name = $3, email = $4, site = $5, hosting = $6, hosting_expires_at = $7,
		        domain_registrar = $8, domain_expires_at = $9, drive_folder = $10, notes = $11
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+clientColumns,
		c.ID, c.UserID, c.Name, c.Email, c.Site, c.Hosting, c.HostingExpiresAt,
		c.DomainRegistrar, c.DomainExpiresAt, c.DriveFolder, c.Notes))
	if err != nil {
		return nil, wrap(op, err)
	}
	return updated, nil
}

// DeleteClient удаляет клиента вместе с его проектами и контрактами.
func (s *Storage) DeleteClient(ctx context.Context, userID, clientID string) error {
	const op = "storage.DeleteClient"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM clients WHERE id = $1 AND user_id = $2`, clientID, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// ListClientExpiries возвращает клиентов пользователя, у которых задана хотя бы одна дата истечения.
func (s *Storage) ListClientExpiries(ctx context.Context, userID string) ([]models.ExpiryCandidate, error) {
	const op = "storage.ListClientExpiries"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT c.user_id, i.email, c.id, c.name, c.hosting_expires_at, c.domain_expires_at
		 FROM clients c
		 JOIN identities i ON i.id = c.user_id
		 WHERE c.user_id = $1
		   AND (c.hosting_expires_at IS NOT NULL OR c.domain_expires_at IS NOT NULL)`, userID)
	if err != nil {
		return nil, wrap(op, err)
	}
	return scanCandidates(op, rows)
}

// ListExpiryCandidates возвращает клиентов всех пользователей с истечением в интервале [from, to].
func (s *Storage) ListExpiryCandidates(ctx context.Context, from, to time.Time) ([]models.ExpiryCandidate, error) {
	const op = "storage.ListExpiryCandidates"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT c.user_id, i.email, c.id, c.name, c.hosting_expires_at, c.domain_expires_at
		 FROM clients c
		 JOIN identities i ON i.id = c.user_id
		 WHERE c.hosting_expires_at BETWEEN $1::date AND $2::date
		    OR c.domain_expires_at BETWEEN $1::date AND $2::date`, from, to)
	if err != nil {
		return nil, wrap(op, err)
	}
	return scanCandidates(op, rows)
}

func scanCandidates(op string, rows *sql.Rows) ([]models.ExpiryCandidate, error) {
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ExpiryCandidate
	for rows.Next() {
		var c models.ExpiryCandidate
		var hosting, domain sql.NullTime
		if err := rows.Scan(&c.UserID, &c.Email, &c.ClientID, &c.ClientName, &hosting, &domain); err != nil {
			return nil, wrap(op, err)
		}
		c.HostingExpiresAt = nullTime(hosting)
		c.DomainExpiresAt = nullTime(domain)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}
