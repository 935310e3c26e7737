package cockroach

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
)

// Integration tests are opt-in and require CARELINK_DATABASE_URL.

func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("CARELINK_DATABASE_URL")
	if url == "" {
		t.Skip("CARELINK_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func TestUserRepository_Postgres(t *testing.T) {
	pool := openTestPool(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))

	suffix := uuid.NewString()[:8]
	doctor := &domain.User{
		Name:         "Dr. Test " + suffix,
		Email:        "doctor-" + suffix + "@example.com",
		Role:         domain.RoleDoctor,
		PasswordHash: "hash",
		Availability: domain.AvailabilityOnline,
	}
	patient := &domain.User{
		Name:         "Patient " + suffix,
		Email:        "patient-" + suffix + "@example.com",
		Role:         domain.RolePatient,
		PasswordHash: "hash",
	}
	require.NoError(t, repo.Create(ctx, doctor))
	require.NoError(t, repo.Create(ctx, patient))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE user_id IN ($1, $2)`, doctor.UserID, patient.UserID)
	})

	err := repo.Create(ctx, &domain.User{Name: "Dup", Email: doctor.Email, Role: domain.RolePatient, PasswordHash: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmailExists))

	got, err := repo.GetByEmail(ctx, patient.Email)
	require.NoError(t, err)
	assert.Equal(t, patient.UserID, got.UserID)
	assert.Empty(t, got.Availability)

	updated, err := repo.SetAvailability(ctx, doctor.UserID, domain.AvailabilityBusy)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityBusy, updated.Availability)

	_, err = repo.SetAvailability(ctx, patient.UserID, domain.AvailabilityBusy)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))

	require.NoError(t, repo.UpdateLastLogin(ctx, patient.UserID, time.Now()))
	got, err = repo.GetByID(ctx, patient.UserID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(users), 2)
}
