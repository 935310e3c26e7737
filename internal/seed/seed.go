package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
)

// DefaultPassword is the password of every seeded account
const DefaultPassword = "changeme123"

// UserStore is the part of the directory the seeder writes to
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
}

type account struct {
	name  string
	email string
	role  domain.Role
}

var accounts = []account{
	{name: "Dr. Sushma Rao", email: "doctor@sayurveda.test", role: domain.RoleDoctor},
	{name: "Ravi Sharma", email: "patient@sayurveda.test", role: domain.RolePatient},
}

// Users creates the demo doctor and patient accounts if they do not exist yet.
// It returns the number of accounts created.
func Users(ctx context.Context, store UserStore) (int, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash seed password: %w", err)
	}

	created := 0
	for _, a := range accounts {
		_, err := store.GetByEmail(ctx, a.email)
		if err == nil {
			continue
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
			return created, fmt.Errorf("failed to look up %s: %w", a.email, err)
		}

		user := &domain.User{
			Name:         a.name,
			Email:        a.email,
			Role:         a.role,
			PasswordHash: string(hash),
		}
		if a.role == domain.RoleDoctor {
			user.Availability = domain.AvailabilityOnline
		}

		if err := store.Create(ctx, user); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeEmailExists) {
				continue
			}
			return created, fmt.Errorf("failed to seed %s: %w", a.email, err)
		}
		created++
		logger.Info("Seeded account", zap.String("email", a.email), zap.String("role", string(a.role)))
	}

	return created, nil
}
