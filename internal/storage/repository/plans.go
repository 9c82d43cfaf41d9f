package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

const planColumns = `id, name, type, price, duration_months, is_active`

// ListPlans возвращает тарифы по возрастанию длительности.
func (s *Storage) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	const op = "storage.ListPlans"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE ($1 = FALSE OR is_active)
		 ORDER BY duration_months ASC`, activeOnly)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Plan
	for rows.Next() {
		var p models.Plan
		if err = rows.Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.DurationMonths, &p.IsActive); err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// GetPlan возвращает тариф по id.
func (s *Storage) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	const op = "storage.GetPlan"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	p := &models.Plan{}
	err := s.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, planID).
		Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.DurationMonths, &p.IsActive)
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}

// UpdatePlan меняет название и цену тарифа.
func (s *Storage) UpdatePlan(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error) {
	const op = "storage.UpdatePlan"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	p := &models.Plan{}
	err := s.DB.QueryRowContext(ctx,
		`UPDATE plans SET name = $2, price = $3 WHERE id = $1 RETURNING `+planColumns,
		planID, upd.Name, upd.Price).
		Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.DurationMonths, &p.IsActive)
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}

// SetPlanActive включает или выключает тариф в каталоге.
func (s *Storage) SetPlanActive(ctx context.Context, planID string, active bool) (*models.Plan, error) {
	const op = "storage.SetPlanActive"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	p := &models.Plan{}
	err := s.DB.QueryRowContext(ctx,
		`UPDATE plans SET is_active = $2 WHERE id = $1 RETURNING `+planColumns,
		planID, active).
		Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.DurationMonths, &p.IsActive)
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}
