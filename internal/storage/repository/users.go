package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

// CreateAccount создаёт учётную запись и профиль участника в одной транзакции.
// Занятый email возвращается как storage.ErrAlreadyExists.
func (s *Storage) CreateAccount(ctx context.Context, email, passwordHash, fullName string) (*models.Identity, *models.Profile, error) {
	const op = "storage.CreateAccount"
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	identity := &models.Identity{Email: email, PasswordHash: passwordHash}
	profile := &models.Profile{FullName: fullName, Email: email, Role: models.RoleMember}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO identities (email, password_hash) VALUES ($1, $2)
			 RETURNING id, created_at`,
			email, passwordHash).Scan(&identity.ID, &identity.CreatedAt); err != nil {
			return err
		}
		profile.UserID = identity.ID
		return tx.QueryRowContext(ctx,
			`INSERT INTO profiles (user_id, full_name, email, role) VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			identity.ID, fullName, email, models.RoleMember).Scan(&profile.ID, &profile.CreatedAt)
	})
	if err != nil {
		return nil, nil, wrap(op, err)
	}
	return identity, profile, nil
}

// GetIdentityByEmail возвращает учётную запись по email.
func (s *Storage) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	const op = "storage.GetIdentityByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	i := &models.Identity{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE lower(email) = lower($1)`,
		email).Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return i, nil
}

// GetIdentity возвращает учётную запись по id.
func (s *Storage) GetIdentity(ctx context.Context, userID string) (*models.Identity, error) {
	const op = "storage.GetIdentity"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	i := &models.Identity{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE id = $1`,
		userID).Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return i, nil
}

// UpdatePasswordHash меняет хеш пароля.
func (s *Storage) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	const op = "storage.UpdatePasswordHash"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE identities SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// DeleteAccount удаляет учётную запись, профиль и все данные пользователя каскадом.
func (s *Storage) DeleteAccount(ctx context.Context, userID string) error {
	const op = "storage.DeleteAccount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// GetProfileByUserID возвращает профиль пользователя.
func (s *Storage) GetProfileByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "storage.GetProfileByUserID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	p := &models.Profile{}
	var avatar sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, full_name, email, avatar_url, role, created_at
		 FROM profiles WHERE user_id = $1`,
		userID).Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &avatar, &p.Role, &p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	p.AvatarURL = nullString(avatar)
	return p, nil
}

// UpdateProfile меняет имя и email профиля вместе с email учётной записи.
func (s *Storage) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.Profile, error) {
	const op = "storage.UpdateProfile"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE identities SET email = $2 WHERE id = $1`, userID, upd.Email)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE profiles SET full_name = $2, email = $3 WHERE user_id = $1`,
			userID, upd.FullName, upd.Email)
		return err
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	return s.GetProfileByUserID(ctx, userID)
}

// SetRole меняет роль пользователя.
func (s *Storage) SetRole(ctx context.Context, userID string, role models.Role) error {
	const op = "storage.SetRole"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE profiles SET role = $2 WHERE user_id = $1`, userID, role)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

func affected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
