package video

import (
	"context"

	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/pagination"
)

// CallRepository reads recorded calls
type CallRepository interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error)
}

// LiveCalls answers whether a user is in a call right now
type LiveCalls interface {
	InCall(userID uuid.UUID) bool
}

// Service exposes a user's video consultation history
type Service struct {
	callRepo CallRepository
	live     LiveCalls
}

// NewService creates a new video service
func NewService(callRepo CallRepository, live LiveCalls) *Service {
	return &Service{
		callRepo: callRepo,
		live:     live,
	}
}

// CallHistory is one page of a user's calls
type CallHistory struct {
	Calls  []*domain.CallRecord `json:"calls"`
	Page   int                  `json:"page"`
	Limit  int                  `json:"limit"`
	InCall bool                 `json:"in_call"`
}

// GetUserCallHistory returns the calls userID took part in, newest first
func (s *Service) GetUserCallHistory(ctx context.Context, userID uuid.UUID, page *pagination.Params) (*CallHistory, error) {
	calls, err := s.callRepo.ListByUser(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return &CallHistory{
		Calls:  calls,
		Page:   page.Page,
		Limit:  page.Limit,
		InCall: s.live.InCall(userID),
	}, nil
}

// GetCall returns a single call. Only its participants may read it.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallRecord, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}
		return nil, apperrors.DatabaseError(err)
	}

	if !call.Involves(userID) {
		return nil, apperrors.NotFoundError("Call")
	}
	return call, nil
}
