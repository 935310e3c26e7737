package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the account type of a user
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Availability is a doctor's call availability
type Availability string

const (
	AvailabilityOnline Availability = "ONLINE"
	AvailabilityBusy   Availability = "BUSY"
)

// Valid reports whether a is a known availability value
func (a Availability) Valid() bool {
	return a == AvailabilityOnline || a == AvailabilityBusy
}

// User represents an account in the directory
// Maps to the users table
type User struct {
	UserID       uuid.UUID    `json:"id" db:"user_id"`
	Name         string       `json:"name" db:"name"`
	Email        string       `json:"email" db:"email"`
	Role         Role         `json:"role" db:"role"`
	PasswordHash string       `json:"-" db:"password_hash"` // Never expose in JSON
	Availability Availability `json:"availability,omitempty" db:"availability"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty" db:"last_login_at"`
}

// IsDoctor reports whether the user has the DOCTOR role
func (u *User) IsDoctor() bool {
	return u.Role == RoleDoctor
}

// UserResponse is the safe user representation returned to clients
type UserResponse struct {
	UserID       uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Role         Role         `json:"role"`
	Availability Availability `json:"availability,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ToResponse converts User to UserResponse (removes sensitive data)
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:       u.UserID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		Availability: u.Availability,
		CreatedAt:    u.CreatedAt,
	}
}

// Identity is what a verified credential resolves to
type Identity struct {
	UserID uuid.UUID
	Role   Role
	Name   string
	Email  string
}

// PublicProfile is the presence view of a user shared with every client.
// Availability is only ever set for doctors.
type PublicProfile struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	Availability Availability `json:"availability,omitempty"`
	Connected    bool         `json:"connected"`
}

// NewPublicProfile projects a user and its connection state into a PublicProfile
func NewPublicProfile(u *User, connected bool) PublicProfile {
	p := PublicProfile{
		ID:        u.UserID,
		Name:      u.Name,
		Role:      u.Role,
		Connected: connected,
	}
	if u.IsDoctor() {
		p.Availability = u.Availability
	}
	return p
}
