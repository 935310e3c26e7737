package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
)

// UserRepository is a process-local user directory.
// Records are copied on the way in and out so callers never share state.
type UserRepository struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*domain.User
	byEmail map[string]uuid.UUID
	now     func() time.Time
}

// NewUserRepository creates an empty UserRepository
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:   make(map[uuid.UUID]*domain.User),
		byEmail: make(map[string]uuid.UUID),
		now:     time.Now,
	}
}

// Create inserts a new user. Email must already be normalized.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return apperrors.EmailExistsError()
	}
	if user.UserID == uuid.Nil {
		user.UserID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now().UTC()
	}

	stored := *user
	r.users[user.UserID] = &stored
	r.byEmail[user.Email] = user.UserID

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, apperrors.UserNotFoundError()
	}
	u := *user
	return &u, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, apperrors.UserNotFoundError()
	}
	u := *r.users[id]
	return &u, nil
}

// UpdateLastLogin records a successful login time
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return apperrors.UserNotFoundError()
	}
	t := at.UTC()
	user.LastLoginAt = &t
	return nil
}

// List returns every user ordered by name
func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	users := make([]*domain.User, 0, len(r.users))
	for _, user := range r.users {
		u := *user
		users = append(users, &u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Name == users[j].Name {
			return users[i].UserID.String() < users[j].UserID.String()
		}
		return users[i].Name < users[j].Name
	})

	return users, nil
}

// SetAvailability updates a doctor's availability and returns the updated record
func (r *UserRepository) SetAvailability(ctx context.Context, doctorID uuid.UUID, availability domain.Availability) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[doctorID]
	if !ok {
		return nil, apperrors.UserNotFoundError()
	}
	if !user.IsDoctor() {
		return nil, apperrors.ForbiddenError("Only doctors have availability")
	}

	user.Availability = availability
	u := *user
	return &u, nil
}
