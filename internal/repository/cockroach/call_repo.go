package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carelink-backend/internal/domain"
	apperrors "carelink-backend/pkg/errors"
)

var callSchema = []string{`
CREATE TABLE IF NOT EXISTS call_logs (
	call_id          UUID PRIMARY KEY,
	doctor_id        UUID NOT NULL REFERENCES users (user_id),
	patient_id       UUID NOT NULL REFERENCES users (user_id),
	initiator_id     UUID NOT NULL,
	status           TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	answered_at      TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	duration_seconds INT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS call_logs_doctor_idx ON call_logs (doctor_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_logs_patient_idx ON call_logs (patient_id, started_at DESC)`,
}

const callColumns = `call_id, doctor_id, patient_id, initiator_id, status,
	started_at, answered_at, ended_at, duration_seconds`

// CallRepository stores call history in CockroachDB
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// EnsureSchema creates the call_logs table if it does not exist.
// Requires the users table.
func (r *CallRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range callSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create call_logs schema: %w", err)
		}
	}
	return nil
}

// Create creates a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.CallRecord) error {
	query := `
		INSERT INTO call_logs (
			call_id, doctor_id, patient_id, initiator_id, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.DoctorID,
		call.PatientID,
		call.InitiatorID,
		string(call.Status),
		call.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// MarkAnswered moves a ringing call to ACTIVE
func (r *CallRepository) MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error {
	query := `
		UPDATE call_logs
		SET status = 'ACTIVE', answered_at = $2
		WHERE call_id = $1 AND status = 'RINGING'
	`

	if _, err := r.pool.Exec(ctx, query, callID, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark call answered: %w", err)
	}
	return nil
}

// Finish closes a call and computes its duration from the answer time
func (r *CallRepository) Finish(ctx context.Context, callID uuid.UUID, status domain.CallStatus, at time.Time) error {
	query := `
		UPDATE call_logs
		SET status = $2,
		    ended_at = $3,
		    duration_seconds = CASE
		        WHEN answered_at IS NULL THEN 0
		        ELSE EXTRACT(EPOCH FROM ($3 - answered_at))::INT
		    END
		WHERE call_id = $1 AND status IN ('RINGING', 'ACTIVE')
	`

	if _, err := r.pool.Exec(ctx, query, callID, string(status), at.UTC()); err != nil {
		return fmt.Errorf("failed to finish call: %w", err)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM call_logs WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Call")
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// ListByUser retrieves the calls a user took part in, newest first
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT ` + callColumns + `
		FROM call_logs
		WHERE doctor_id = $1 OR patient_id = $1
		ORDER BY started_at DESC, call_id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.CallRecord, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}

	return calls, nil
}

func scanCall(row pgx.Row) (*domain.CallRecord, error) {
	var (
		call   domain.CallRecord
		status string
	)

	err := row.Scan(
		&call.CallID,
		&call.DoctorID,
		&call.PatientID,
		&call.InitiatorID,
		&status,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}

	call.Status = domain.CallStatus(status)
	return &call, nil
}
