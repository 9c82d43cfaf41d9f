package admin

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) AdminOverview(ctx context.Context) (*models.AdminOverview, error) {
	args := m.Called(ctx)
	o, _ := args.Get(0).(*models.AdminOverview)
	return o, args.Error(1)
}

func (m *RepoMock) ListUsers(ctx context.Context, f models.UserFilter) ([]models.UserRecord, error) {
	args := m.Called(ctx, f)
	out, _ := args.Get(0).([]models.UserRecord)
	return out, args.Error(1)
}

func (m *RepoMock) DeleteAccount(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *RepoMock) SetRole(ctx context.Context, userID string, role models.Role) error {
	return m.Called(ctx, userID, role).Error(0)
}

func (m *RepoMock) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	args := m.Called(ctx, activeOnly)
	out, _ := args.Get(0).([]models.Plan)
	return out, args.Error(1)
}

func (m *RepoMock) UpdatePlan(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error) {
	args := m.Called(ctx, planID, upd)
	p, _ := args.Get(0).(*models.Plan)
	return p, args.Error(1)
}

func (m *RepoMock) SetPlanActive(ctx context.Context, planID string, active bool) (*models.Plan, error) {
	args := m.Called(ctx, planID, active)
	p, _ := args.Get(0).(*models.Plan)
	return p, args.Error(1)
}

func (m *RepoMock) ListPayments(ctx context.Context, q models.PaymentQuery) ([]models.PaymentRecord, error) {
	args := m.Called(ctx, q)
	out, _ := args.Get(0).([]models.PaymentRecord)
	return out, args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) NotifyUserUpdated(userID string) { m.Called(userID) }
func (m *NotifierMock) NotifyUserDeleted(userID string) { m.Called(userID) }

type CatalogMock struct{ mock.Mock }

func (m *CatalogMock) InvalidatePlans(ctx context.Context) { m.Called(ctx) }

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var fixedNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	repo     *RepoMock
	notifier *NotifierMock
	catalog  *CatalogMock
}

func newTestEnv() testEnv {
	env := testEnv{repo: new(RepoMock), notifier: new(NotifierMock), catalog: new(CatalogMock)}
	env.svc = New(env.repo, env.notifier, env.catalog, newNoopLogger())
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("signs out deleted user", func(t *testing.T) {
		env := newTestEnv()
		env.repo.On("DeleteAccount", ctx, "u2").Return(nil)
		env.notifier.On("NotifyUserDeleted", "u2").Return()

		require.NoError(t, env.svc.DeleteUser(ctx, "admin", "u2"))
		env.notifier.AssertExpectations(t)
	})

	t.Run("cannot delete self", func(t *testing.T) {
		env := newTestEnv()
		err := env.svc.DeleteUser(ctx, "admin", "admin")
		assert.ErrorIs(t, err, ErrSelfAction)
		env.repo.AssertNotCalled(t, "DeleteAccount", mock.Anything, mock.Anything)
	})

	t.Run("storage error keeps sessions", func(t *testing.T) {
		env := newTestEnv()
		env.repo.On("DeleteAccount", ctx, "u2").Return(errors.New("db down"))

		assert.Error(t, env.svc.DeleteUser(ctx, "admin", "u2"))
		env.notifier.AssertNotCalled(t, "NotifyUserDeleted", mock.Anything)
	})
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv()
	env.repo.On("SetRole", ctx, "u2", models.RoleAdmin).Return(nil)
	env.notifier.On("NotifyUserUpdated", "u2").Return()
	require.NoError(t, env.svc.SetRole(ctx, "admin", "u2", models.RoleAdmin))
	env.notifier.AssertExpectations(t)

	assert.ErrorIs(t, env.svc.SetRole(ctx, "admin", "admin", models.RoleMember), ErrSelfAction)
	assert.Error(t, env.svc.SetRole(ctx, "admin", "u2", "owner"))
}

func TestPlanChangesInvalidateCatalog(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	upd := models.PlanUpdate{Name: "Mensal Plus", Price: 35}
	env.repo.On("UpdatePlan", ctx, "p1", upd).Return(&models.Plan{ID: "p1", Name: upd.Name, Price: upd.Price}, nil)
	env.repo.On("SetPlanActive", ctx, "p1", false).Return(&models.Plan{ID: "p1"}, nil)
	env.catalog.On("InvalidatePlans", ctx).Return()

	_, err := env.svc.UpdatePlan(ctx, "p1", upd)
	require.NoError(t, err)
	_, err = env.svc.SetPlanActive(ctx, "p1", false)
	require.NoError(t, err)
	env.catalog.AssertNumberOfCalls(t, "InvalidatePlans", 2)

	_, err = env.svc.UpdatePlan(ctx, "p1", models.PlanUpdate{Name: "M", Price: 0})
	assert.Error(t, err)
	env.catalog.AssertNumberOfCalls(t, "InvalidatePlans", 2)
}

func TestPeriodRange(t *testing.T) {
	tests := []struct {
		period   models.PaymentPeriod
		from, to time.Time
		unbound  bool
	}{
		{period: models.PeriodAll, unbound: true},
		{period: "", unbound: true},
		{
			period: models.PeriodCurrentMonth,
			from:   time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			to:     fixedNow,
		},
		{
			period: models.PeriodLastMonth,
			from:   time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
			to:     time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond),
		},
		{
			period: models.PeriodLast3Months,
			from:   time.Date(2024, time.December, 15, 12, 0, 0, 0, time.UTC),
			to:     fixedNow,
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			from, to, err := PeriodRange(tt.period, fixedNow)
			require.NoError(t, err)
			if tt.unbound {
				assert.Nil(t, from)
				assert.Nil(t, to)
				return
			}
			require.NotNil(t, from)
			require.NotNil(t, to)
			assert.True(t, tt.from.Equal(*from), "from %s", from)
			assert.True(t, tt.to.Equal(*to), "to %s", to)
		})
	}

	// окно скользящее, начало декабря в него не попадает
	from, _, err := PeriodRange(models.PeriodLast3Months, fixedNow)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.December, 10, 0, 0, 0, 0, time.UTC).Before(*from))

	_, _, err = PeriodRange("last_decade", fixedNow)
	assert.ErrorIs(t, err, ErrUnknownPeriod)
}

func samplePayments() []models.PaymentRecord {
	paidAt := fixedNow.Add(-time.Hour)
	return []models.PaymentRecord{
		{Payment: models.Payment{ID: "pay1", Amount: 30, Status: models.PaymentPaid, PaymentMethod: "credit_card", PaidAt: &paidAt, CreatedAt: paidAt}, FullName: "Ana", Email: "ana@example.com", PlanName: "Mensal"},
		{Payment: models.Payment{ID: "pay2", Amount: 250, Status: models.PaymentCompleted, PaymentMethod: "credit_card", CreatedAt: paidAt}, FullName: "Bruno", Email: "bruno@example.com", PlanName: "Anual"},
		{Payment: models.Payment{ID: "pay3", Amount: 30, Status: models.PaymentFailed, PaymentMethod: "credit_card", CreatedAt: paidAt}, FullName: "Carla", Email: "carla@example.com", PlanName: "Mensal"},
	}
}

func TestPayments_RevenueCountsPaidOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.repo.On("ListPayments", ctx, models.PaymentQuery{Search: "a"}).Return(samplePayments(), nil)

	report, err := env.svc.Payments(ctx, models.PaymentFilter{Search: "a", Period: models.PeriodAll})
	require.NoError(t, err)
	assert.Len(t, report.Payments, 3)
	assert.Equal(t, 2, report.Paid)
	assert.InDelta(t, 280.0, report.Revenue, 0.001)
}

func TestPayments_InvalidFilter(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Payments(context.Background(), models.PaymentFilter{Status: "stolen"})
	assert.Error(t, err)
	env.repo.AssertNotCalled(t, "ListPayments", mock.Anything, mock.Anything)
}

func TestExportPayments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.repo.On("ListPayments", ctx, mock.AnythingOfType("models.PaymentQuery")).Return(samplePayments(), nil)

	var buf bytes.Buffer
	require.NoError(t, env.svc.ExportPayments(ctx, models.PaymentFilter{Period: models.PeriodCurrentMonth}, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, []string{"pay1", "2025-03-15T11:00:00Z", "Ana", "ana@example.com", "Mensal", "30.00", "paid", "credit_card", "2025-03-15T11:00:00Z"}, records[1])
	assert.Equal(t, "", records[2][8])
}
