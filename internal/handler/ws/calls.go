package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyInCall is returned by Begin when either party is already tracked
var ErrAlreadyInCall = errors.New("participant already in a call")

// CallSession pairs one doctor with one patient
type CallSession struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	StartedAt time.Time
}

// Counterpart returns the other participant of the session
func (s *CallSession) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == s.DoctorID {
		return s.PatientID
	}
	return s.DoctorID
}

// CallTracker indexes active call sessions by both participants
type CallTracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*CallSession
	now      func() time.Time
}

// NewCallTracker creates an empty tracker
func NewCallTracker() *CallTracker {
	return &CallTracker{
		sessions: make(map[uuid.UUID]*CallSession),
		now:      time.Now,
	}
}

// Begin registers a session under both the doctor and the patient
func (t *CallTracker) Begin(doctorID, patientID uuid.UUID) (*CallSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.sessions[doctorID]; busy {
		return nil, ErrAlreadyInCall
	}
	if _, busy := t.sessions[patientID]; busy {
		return nil, ErrAlreadyInCall
	}

	session := &CallSession{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		StartedAt: t.now(),
	}
	t.sessions[doctorID] = session
	t.sessions[patientID] = session

	return session, nil
}

// Session returns a copy of userID's session
func (t *CallTracker) Session(userID uuid.UUID) (CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[userID]
	if !ok {
		return CallSession{}, false
	}
	return *session, true
}

// InCall reports whether userID is part of a session
func (t *CallTracker) InCall(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[userID]
	return ok
}

// End removes userID's session under both keys and returns it
func (t *CallTracker) End(userID uuid.UUID) (*CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[userID]
	if !ok {
		return nil, false
	}
	delete(t.sessions, session.DoctorID)
	delete(t.sessions, session.PatientID)

	return session, true
}

// Active returns the number of sessions
func (t *CallTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions) / 2
}
