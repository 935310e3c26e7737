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

// CallRepository keeps call history in process memory
type CallRepository struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]*domain.CallRecord
}

// NewCallRepository creates an empty CallRepository
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[uuid.UUID]*domain.CallRecord),
	}
}

// Create stores a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.CallID]; exists {
		return apperrors.ConflictError("call already recorded")
	}
	stored := *call
	r.calls[call.CallID] = &stored
	return nil
}

// MarkAnswered moves a ringing call to ACTIVE
func (r *CallRepository) MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return apperrors.NotFoundError("Call")
	}
	if call.Status != domain.CallRinging {
		return nil
	}
	answeredAt := at.UTC()
	call.Status = domain.CallActive
	call.AnsweredAt = &answeredAt
	return nil
}

// Finish closes a call with its final status. Duration counts from the answer,
// so calls that were never answered last zero seconds.
func (r *CallRepository) Finish(ctx context.Context, callID uuid.UUID, status domain.CallStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return apperrors.NotFoundError("Call")
	}
	if call.Status.Finished() {
		return nil
	}
	endedAt := at.UTC()
	call.Status = status
	call.EndedAt = &endedAt
	if call.AnsweredAt != nil {
		call.DurationSeconds = int(endedAt.Sub(*call.AnsweredAt) / time.Second)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, apperrors.NotFoundError("Call")
	}
	c := *call
	return &c, nil
}

// ListByUser returns the calls userID took part in, newest first
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]*domain.CallRecord, 0)
	for _, call := range r.calls {
		if call.Involves(userID) {
			c := *call
			calls = append(calls, &c)
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		if !calls[i].StartedAt.Equal(calls[j].StartedAt) {
			return calls[i].StartedAt.After(calls[j].StartedAt)
		}
		return calls[i].CallID.String() < calls[j].CallID.String()
	})

	if offset >= len(calls) {
		return []*domain.CallRecord{}, nil
	}
	calls = calls[offset:]
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}
