package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/devmanager/internal/cache"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	args := m.Called(ctx, activeOnly)
	plans, _ := args.Get(0).([]models.Plan)
	return plans, args.Error(1)
}

func (m *RepoMock) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	args := m.Called(ctx, planID)
	plan, _ := args.Get(0).(*models.Plan)
	return plan, args.Error(1)
}

func (m *RepoMock) CreatePaidSubscription(ctx context.Context, userID string, plan models.Plan, method string) (*models.Subscription, *models.Payment, error) {
	args := m.Called(ctx, userID, plan, method)
	sub, _ := args.Get(0).(*models.Subscription)
	payment, _ := args.Get(1).(*models.Payment)
	return sub, payment, args.Error(2)
}

func (m *RepoMock) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func (m *RepoMock) ListPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	args := m.Called(ctx, userID)
	payments, _ := args.Get(0).([]models.Payment)
	return payments, args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) NotifyUserUpdated(userID string) {
	m.Called(userID)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var (
	fixedNow    = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	monthlyPlan = models.Plan{ID: "p1", Name: "Mensal", Type: models.PlanMonthly, Price: 30, DurationMonths: 1, IsActive: true}
)

func newTestService(repo *RepoMock, c *CacheMock, n *NotifierMock) *Service {
	s := New(repo, c, n, newNoopLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func validForm() models.CardForm {
	return models.CardForm{
		PlanID:     "p1",
		CardNumber: "4242 4242 4242 4242",
		CardHolder: "Ana Souza",
		Expiry:     "12/27",
		CVC:        "123",
	}
}

func TestActivePlans(t *testing.T) {
	ctx := context.Background()
	plans := []models.Plan{monthlyPlan}

	t.Run("cache hit", func(t *testing.T) {
		repo, c := new(RepoMock), new(CacheMock)
		c.On("Get", ctx, cache.PlansKey, mock.Anything).Return(true, nil).Run(func(args mock.Arguments) {
			*args.Get(2).(*[]models.Plan) = plans
		})

		got, err := newTestService(repo, c, new(NotifierMock)).ActivePlans(ctx)
		require.NoError(t, err)
		assert.Equal(t, plans, got)
		repo.AssertNotCalled(t, "ListPlans", mock.Anything, mock.Anything)
	})

	t.Run("cache miss fills cache", func(t *testing.T) {
		repo, c := new(RepoMock), new(CacheMock)
		c.On("Get", ctx, cache.PlansKey, mock.Anything).Return(false, nil)
		repo.On("ListPlans", ctx, true).Return(plans, nil)
		c.On("Set", ctx, cache.PlansKey, plans, plansTTL).Return(nil)

		got, err := newTestService(repo, c, new(NotifierMock)).ActivePlans(ctx)
		require.NoError(t, err)
		assert.Equal(t, plans, got)
		c.AssertExpectations(t)
	})

	t.Run("cache down falls back to database", func(t *testing.T) {
		repo, c := new(RepoMock), new(CacheMock)
		c.On("Get", ctx, cache.PlansKey, mock.Anything).Return(false, errors.New("redis down"))
		repo.On("ListPlans", ctx, true).Return(plans, nil)
		c.On("Set", ctx, cache.PlansKey, plans, plansTTL).Return(errors.New("redis down"))

		got, err := newTestService(repo, c, new(NotifierMock)).ActivePlans(ctx)
		require.NoError(t, err)
		assert.Equal(t, plans, got)
	})

	t.Run("database error", func(t *testing.T) {
		repo, c := new(RepoMock), new(CacheMock)
		c.On("Get", ctx, cache.PlansKey, mock.Anything).Return(false, nil)
		repo.On("ListPlans", ctx, true).Return(nil, errors.New("db down"))

		_, err := newTestService(repo, c, new(NotifierMock)).ActivePlans(ctx)
		assert.Error(t, err)
	})
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	disabled := monthlyPlan
	disabled.IsActive = false

	tests := []struct {
		name    string
		plan    *models.Plan
		repoErr error
		wantErr error
	}{
		{name: "active", plan: &monthlyPlan},
		{name: "disabled", plan: &disabled, wantErr: ErrPlanNotFound},
		{name: "missing", repoErr: storage.ErrNotFound, wantErr: ErrPlanNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			repo.On("GetPlan", ctx, "p1").Return(tt.plan, tt.repoErr)

			got, err := newTestService(repo, new(CacheMock), new(NotifierMock)).Plan(ctx, "p1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.plan, got)
		})
	}
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("success notifies live sessions", func(t *testing.T) {
		repo, n := new(RepoMock), new(NotifierMock)
		sub := &models.Subscription{ID: "s1", UserID: "u1", PlanID: "p1", Status: models.SubscriptionActive}
		repo.On("GetPlan", ctx, "p1").Return(&monthlyPlan, nil)
		repo.On("CreatePaidSubscription", ctx, "u1", monthlyPlan, "credit_card").
			Return(sub, &models.Payment{ID: "pay1", Status: models.PaymentPaid}, nil)
		n.On("NotifyUserUpdated", "u1").Return()

		got, err := newTestService(repo, new(CacheMock), n).Checkout(ctx, "u1", validForm())
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Equal(t, &monthlyPlan, got.Plan)
		n.AssertExpectations(t)
	})

	t.Run("invalid card never reaches storage", func(t *testing.T) {
		repo, n := new(RepoMock), new(NotifierMock)
		form := validForm()
		form.Expiry = "01/25"

		_, err := newTestService(repo, new(CacheMock), n).Checkout(ctx, "u1", form)
		assert.ErrorIs(t, err, ErrInvalidCard)
		repo.AssertNotCalled(t, "CreatePaidSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		n.AssertNotCalled(t, "NotifyUserUpdated", mock.Anything)
	})

	t.Run("storage failure does not notify", func(t *testing.T) {
		repo, n := new(RepoMock), new(NotifierMock)
		repo.On("GetPlan", ctx, "p1").Return(&monthlyPlan, nil)
		repo.On("CreatePaidSubscription", ctx, "u1", monthlyPlan, "credit_card").
			Return(nil, nil, errors.New("tx aborted"))

		_, err := newTestService(repo, new(CacheMock), n).Checkout(ctx, "u1", validForm())
		assert.Error(t, err)
		n.AssertNotCalled(t, "NotifyUserUpdated", mock.Anything)
	})
}

func TestValidateCard(t *testing.T) {
	tests := []struct {
		name   string
		modify func(f *models.CardForm)
		valid  bool
	}{
		{name: "valid", modify: func(*models.CardForm) {}, valid: true},
		{name: "current month still valid", modify: func(f *models.CardForm) { f.Expiry = "03/25" }, valid: true},
		{name: "previous month expired", modify: func(f *models.CardForm) { f.Expiry = "02/25" }},
		{name: "bad expiry format", modify: func(f *models.CardForm) { f.Expiry = "13/27" }},
		{name: "short number", modify: func(f *models.CardForm) { f.CardNumber = "4242 4242 42" }},
		{name: "letters in number", modify: func(f *models.CardForm) { f.CardNumber = "4242 4242 4242 abcd" }},
		{name: "four digit cvc", modify: func(f *models.CardForm) { f.CVC = "1234" }, valid: true},
		{name: "two digit cvc", modify: func(f *models.CardForm) { f.CVC = "12" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.modify(&form)
			err := ValidateCard(form, fixedNow)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCard)
			}
		})
	}
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	repo := new(RepoMock)
	repo.On("GetActiveSubscription", ctx, "u1").Return(nil, storage.ErrNotFound)
	repo.On("ListPaymentsByUser", ctx, "u1").Return([]models.Payment{{ID: "pay1"}}, nil)

	got, err := newTestService(repo, new(CacheMock), new(NotifierMock)).Overview(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.Subscription)
	assert.Len(t, got.Payments, 1)
}
