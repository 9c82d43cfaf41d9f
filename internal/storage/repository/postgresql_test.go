package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/devmanager/internal/migrations"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и накатывает миграции проекта.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	root, err := filepath.Abs("../../..")
	require.NoError(t, err)
	_, err = migrations.Run(s.DB, filepath.Join(root, "migrations"))
	require.NoError(t, err)
	require.NoError(t, CheckDatabaseReady(ctx, s))
	return s
}

// testDataFactory создаёт тестовые данные через методы хранилища
type testDataFactory struct {
	t *testing.T
	s *Storage
}

func newTestDataFactory(t *testing.T, s *Storage) *testDataFactory {
	return &testDataFactory{t: t, s: s}
}

func (f *testDataFactory) account(email, fullName string) *models.Profile {
	_, profile, err := f.s.CreateAccount(context.Background(), email, "hash", fullName)
	require.NoError(f.t, err)
	return profile
}

func (f *testDataFactory) plan(name string) models.Plan {
	plans, err := f.s.ListPlans(context.Background(), false)
	require.NoError(f.t, err)
	for _, p := range plans {
		if p.Name == name {
			return p
		}
	}
	f.t.Fatalf("plan %s not seeded", name)
	return models.Plan{}
}

func (f *testDataFactory) client(userID, name string, hosting, domain *time.Time) *models.Client {
	c, err := f.s.CreateClient(context.Background(), models.Client{
		UserID:           userID,
		Name:             name,
		HostingExpiresAt: hosting,
		DomainExpiresAt:  domain,
	})
	require.NoError(f.t, err)
	return c
}
