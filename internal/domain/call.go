package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a recorded call
type CallStatus string

const (
	CallRinging  CallStatus = "RINGING"
	CallActive   CallStatus = "ACTIVE"
	CallRejected CallStatus = "REJECTED"
	CallEnded    CallStatus = "ENDED"
	// CallDropped means a participant disconnected mid-call
	CallDropped CallStatus = "DROPPED"
)

// Finished reports whether the call has left the ringing/active states
func (s CallStatus) Finished() bool {
	return s == CallRejected || s == CallEnded || s == CallDropped
}

// CallRecord is the history entry kept for one doctor-patient call
type CallRecord struct {
	CallID          uuid.UUID  `json:"call_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	InitiatorID     uuid.UUID  `json:"initiator_id"`
	Status          CallStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

// Involves reports whether userID took part in the call
func (c *CallRecord) Involves(userID uuid.UUID) bool {
	return c.DoctorID == userID || c.PatientID == userID
}
