package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
)

// UserRepository interface
type UserRepository interface {
	List(ctx context.Context) ([]*domain.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// PresenceView answers whether a user currently has a relay connection
type PresenceView interface {
	IsConnected(userID uuid.UUID) bool
}

// AvailabilityCoordinator applies availability changes that must respect active calls
type AvailabilityCoordinator interface {
	UpdateAvailability(ctx context.Context, doctorID uuid.UUID, availability domain.Availability) (*domain.User, error)
}

// PresenceNotifier is told when a user's public state changes
type PresenceNotifier interface {
	NotifyPresenceChanged()
}

// Service handles user directory queries and doctor status changes
type Service struct {
	userRepo    UserRepository
	presence    PresenceView
	coordinator AvailabilityCoordinator
	notifier    PresenceNotifier
}

// NewService creates a new user service
func NewService(
	userRepo UserRepository,
	presence PresenceView,
	coordinator AvailabilityCoordinator,
	notifier PresenceNotifier,
) *Service {
	return &Service{
		userRepo:    userRepo,
		presence:    presence,
		coordinator: coordinator,
		notifier:    notifier,
	}
}

// DoctorSummary is a doctor as listed to authenticated clients
type DoctorSummary struct {
	ID           uuid.UUID           `json:"id"`
	Name         string              `json:"name"`
	Email        string              `json:"email"`
	Availability domain.Availability `json:"availability"`
	Connected    bool                `json:"connected"`
}

// Profile is the caller's own account as returned by /users/me
type Profile struct {
	*domain.UserResponse
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	Connected   bool       `json:"connected"`
}

// GetProfile returns the account behind userID
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
			return nil, err
		}
		return nil, apperrors.DatabaseError(err)
	}
	return &Profile{
		UserResponse: u.ToResponse(),
		LastLoginAt:  u.LastLoginAt,
		Connected:    s.presence.IsConnected(u.UserID),
	}, nil
}

// ListPublicUsers returns the presence view of every user
func (s *Service) ListPublicUsers(ctx context.Context) ([]domain.PublicProfile, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	profiles := make([]domain.PublicProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, domain.NewPublicProfile(u, s.presence.IsConnected(u.UserID)))
	}
	return profiles, nil
}

// ListDoctors returns doctors, optionally only those with the given availability.
// An empty filter returns every doctor.
func (s *Service) ListDoctors(ctx context.Context, filter domain.Availability) ([]DoctorSummary, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}

	doctors := make([]DoctorSummary, 0)
	for _, u := range users {
		if !u.IsDoctor() {
			continue
		}
		if filter != "" && u.Availability != filter {
			continue
		}
		doctors = append(doctors, DoctorSummary{
			ID:           u.UserID,
			Name:         u.Name,
			Email:        u.Email,
			Availability: u.Availability,
			Connected:    s.presence.IsConnected(u.UserID),
		})
	}
	return doctors, nil
}

// UpdateDoctorStatus changes a doctor's availability and announces it
func (s *Service) UpdateDoctorStatus(ctx context.Context, doctorID uuid.UUID, availability domain.Availability) (*domain.User, error) {
	if !availability.Valid() {
		return nil, apperrors.ValidationError("status must be ONLINE or BUSY")
	}

	doctor, err := s.coordinator.UpdateAvailability(ctx, doctorID, availability)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Doctor availability changed",
		zap.String("doctor_id", doctorID.String()),
		zap.String("availability", string(availability)))

	if s.notifier != nil {
		s.notifier.NotifyPresenceChanged()
	}
	return doctor, nil
}
