package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/constants"
	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/jwt"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
	"carelink-backend/pkg/sanitize"
)

// UserRepository interface
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// TokenBlacklist stores revoked token ids
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

// LoginLockout tracks failed login attempts
type LoginLockout interface {
	RecordFailedAttempt(ctx context.Context, identifier string) error
	CheckLockout(ctx context.Context, identifier string) (bool, int, error)
	ClearFailedAttempts(ctx context.Context, identifier string) error
}

// PresenceNotifier is told when the set of known users changes
type PresenceNotifier interface {
	NotifyPresenceChanged()
}

// Service handles authentication business logic
type Service struct {
	userRepo   UserRepository
	blacklist  TokenBlacklist
	lockout    LoginLockout
	notifier   PresenceNotifier
	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics

	bcryptCost int
	now        func() time.Time
}

// NewService creates a new auth service. blacklist, lockout, notifier and
// metrics may be nil.
func NewService(
	userRepo UserRepository,
	blacklist TokenBlacklist,
	lockout LoginLockout,
	notifier PresenceNotifier,
	jwtManager *jwt.JWTManager,
	m *metrics.Metrics,
) *Service {
	return &Service{
		userRepo:   userRepo,
		blacklist:  blacklist,
		lockout:    lockout,
		notifier:   notifier,
		jwtManager: jwtManager,
		metrics:    m,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// RegisterInput contains user registration data
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// LoginInput contains login credentials
type LoginInput struct {
	Email    string
	Password string
}

// AuthOutput is returned by register and login
type AuthOutput struct {
	Token string               `json:"token"`
	User  *domain.UserResponse `json:"user"`
}

// Register creates a new account and issues an access token
func (s *Service) Register(ctx context.Context, input *RegisterInput) (*AuthOutput, error) {
	s.metrics.RecordAuthAttempt("register")

	input.Name = sanitize.SanitizeName(input.Name)
	input.Email = sanitize.SanitizeEmail(input.Email)
	if err := validateRegisterInput(input); err != nil {
		s.metrics.RecordAuthFailure("register", "validation")
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		UserID:       uuid.New(),
		Name:         input.Name,
		Email:        input.Email,
		Role:         input.Role,
		PasswordHash: string(passwordHash),
		CreatedAt:    s.now().UTC(),
	}
	if user.IsDoctor() {
		user.Availability = domain.AvailabilityOnline
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeEmailExists) {
			s.metrics.RecordAuthFailure("register", "email_exists")
		}
		return nil, err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("User registered",
		zap.String("registered_id", user.UserID.String()),
		zap.String("role", string(user.Role)))
	s.metrics.RecordAuthSuccess("register")
	s.notifyPresence()

	return &AuthOutput{Token: token, User: user.ToResponse()}, nil
}

// Login authenticates a user by email and password
func (s *Service) Login(ctx context.Context, input *LoginInput) (*AuthOutput, error) {
	s.metrics.RecordAuthAttempt("login")
	email := sanitize.SanitizeEmail(input.Email)
	if email == "" || input.Password == "" {
		s.metrics.RecordAuthFailure("login", "validation")
		return nil, apperrors.ValidationError("email and password are required")
	}

	if s.lockout != nil {
		locked, _, err := s.lockout.CheckLockout(ctx, email)
		if err != nil {
			logger.Warn("Failed to check login lockout", zap.Error(err))
		} else if locked {
			s.metrics.RecordAuthFailure("login", "locked")
			return nil, apperrors.AccountLockedError()
		}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
			return nil, err
		}
		s.recordFailedLogin(ctx, email, "unknown_email")
		return nil, apperrors.InvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordFailedLogin(ctx, email, "bad_password")
		return nil, apperrors.InvalidCredentialsError()
	}

	if s.lockout != nil {
		if err := s.lockout.ClearFailedAttempts(ctx, email); err != nil {
			logger.Warn("Failed to clear failed login attempts", zap.Error(err))
		}
	}

	loginAt := s.now().UTC()
	if err := s.userRepo.UpdateLastLogin(ctx, user.UserID, loginAt); err != nil {
		// Non-critical, log but don't fail
		logger.Warn("Failed to update last login",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
	} else {
		user.LastLoginAt = &loginAt
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthSuccess("login")
	return &AuthOutput{Token: token, User: user.ToResponse()}, nil
}

// Logout revokes the token's jti until it would have expired anyway
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return apperrors.InvalidTokenError("Invalid or expired token")
	}

	if s.blacklist == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}

	expiresIn := claims.ExpiresAt.Time.Sub(s.now())
	if expiresIn <= 0 {
		return nil
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, expiresIn); err != nil {
		logger.FromContext(ctx).Warn("Failed to blacklist token during logout",
			zap.String("jti", claims.ID),
			zap.Error(err))
	}
	return nil
}

// VerifyToken resolves an access token to the identity it was issued for
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*domain.Identity, error) {
	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return nil, apperrors.InvalidTokenError("Invalid or expired token")
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return nil, apperrors.InvalidTokenError("Invalid or expired token")
	}

	if s.blacklist != nil && claims.ID != "" {
		revoked, err := s.blacklist.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil {
			// Redis being unavailable does not lock every user out
			logger.Warn("Failed to check token blacklist", zap.Error(err))
		} else if revoked {
			return nil, apperrors.InvalidTokenError("Token has been revoked")
		}
	}

	return &domain.Identity{
		UserID: claims.UserID,
		Role:   role,
		Name:   claims.Name,
		Email:  claims.Email,
	}, nil
}

func (s *Service) issueToken(user *domain.User) (string, error) {
	token, err := s.jwtManager.GenerateAccessToken(user.UserID, user.Email, user.Name, string(user.Role))
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, email, reason string) {
	s.metrics.RecordAuthFailure("login", reason)
	if s.lockout == nil {
		return
	}
	if err := s.lockout.RecordFailedAttempt(ctx, email); err != nil {
		logger.Warn("Failed to record failed login attempt", zap.Error(err))
	}
}

func (s *Service) notifyPresence() {
	if s.notifier != nil {
		s.notifier.NotifyPresenceChanged()
	}
}

// validateRegisterInput validates registration input
func validateRegisterInput(input *RegisterInput) error {
	var problems []string
	if len([]rune(input.Name)) < constants.MinNameLength {
		problems = append(problems, fmt.Sprintf("name must be at least %d characters", constants.MinNameLength))
	}
	if !sanitize.ValidEmail(input.Email) {
		problems = append(problems, "email must be a valid email address")
	}
	if len(input.Password) < constants.MinPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", constants.MinPasswordLength))
	}
	if !input.Role.Valid() {
		problems = append(problems, "role must be PATIENT or DOCTOR")
	}

	if len(problems) > 0 {
		return apperrors.ValidationError(strings.Join(problems, "; "))
	}
	return nil
}
