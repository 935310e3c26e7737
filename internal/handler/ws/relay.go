package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/constants"
	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

// Directory is the user store the relay reads identities and availability from
type Directory interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetAvailability(ctx context.Context, doctorID uuid.UUID, availability domain.Availability) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
}

// PresenceMirror receives best-effort copies of connection state
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// CallLog records call history. Failures are logged and never affect the call.
type CallLog interface {
	Create(ctx context.Context, call *domain.CallRecord) error
	MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error
	Finish(ctx context.Context, callID uuid.UUID, status domain.CallStatus, at time.Time) error
}

// RelayHub owns presence, call sessions and message routing between connected users
type RelayHub struct {
	directory Directory
	registry  *PresenceRegistry
	calls     *CallTracker
	mirror    PresenceMirror
	callLog   CallLog
	metrics   *metrics.Metrics

	// callMu serializes availability checks and changes with call begin/end
	callMu sync.Mutex
	// broadcastMu keeps snapshots delivered in the order they were computed
	broadcastMu sync.Mutex

	now func() time.Time

	transport
}

// HubOptions carries optional collaborators
type HubOptions struct {
	Verifier       TokenVerifier
	Mirror         PresenceMirror
	CallLog        CallLog
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	MaxConnections int
}

// NewRelayHub creates a hub and registers it with notifier
func NewRelayHub(directory Directory, notifier *Notifier, opts HubOptions) *RelayHub {
	h := &RelayHub{
		directory: directory,
		registry:  NewPresenceRegistry(),
		calls:     NewCallTracker(),
		mirror:    opts.Mirror,
		callLog:   opts.CallLog,
		metrics:   opts.Metrics,
		now:       time.Now,
		transport: newTransport(opts.Verifier, opts.AllowedOrigins, opts.MaxConnections),
	}
	if notifier != nil {
		notifier.Register(h)
	}
	return h
}

// IsConnected reports whether userID has a live relay connection
func (h *RelayHub) IsConnected(userID uuid.UUID) bool {
	return h.registry.IsConnected(userID)
}

// InCall reports whether userID is part of a call session
func (h *RelayHub) InCall(userID uuid.UUID) bool {
	return h.calls.InCall(userID)
}

// Admit registers an authenticated connection, sends it the current snapshot
// and announces the change to everyone.
func (h *RelayHub) Admit(ctx context.Context, user *domain.User, conn Conn) {
	if prev := h.registry.Admit(user.UserID, conn); prev != nil {
		h.metrics.RecordSuperseded()
		logger.Info("Superseded previous relay connection", zap.String("user_id", user.UserID.String()))
	}
	h.metrics.SetWebSocketConnections(h.registry.Count())
	h.mirrorOnline(ctx, user.UserID)

	h.broadcastMu.Lock()
	if data, ok := h.snapshotFrame(ctx); ok {
		h.deliver(conn, data, TypeUsersUpdate)
	}
	h.broadcastMu.Unlock()

	h.BroadcastPresence(ctx)
}

// Disconnect tears down state owned by conn. It is a no-op if conn was
// superseded or already disconnected.
func (h *RelayHub) Disconnect(ctx context.Context, user *domain.User, conn Conn) {
	if !h.registry.RemoveIf(user.UserID, conn) {
		return
	}
	h.metrics.SetWebSocketConnections(h.registry.Count())
	h.mirrorOffline(ctx, user.UserID)

	if session, ok := h.endCall(ctx, user.UserID, domain.CallDropped); ok {
		h.sendTo(session.Counterpart(user.UserID), newCallEvent(TypeCallEnd, user.UserID.String()))
		h.metrics.RecordCall("disconnected")
		h.BroadcastPresence(ctx)
	}

	h.BroadcastPresence(ctx)
}

// Shutdown closes every relay connection with CloseGoingAway. Entries are
// removed first so the read pumps exiting afterwards find nothing to tear down.
func (h *RelayHub) Shutdown(ctx context.Context) int {
	closed := 0
	for _, userID := range h.registry.Users() {
		conn := h.registry.Remove(userID)
		if conn == nil {
			continue
		}
		if session, ok := h.endCall(ctx, userID, domain.CallDropped); ok {
			h.sendTo(session.Counterpart(userID), newCallEvent(TypeCallEnd, userID.String()))
		}
		h.mirrorOffline(ctx, userID)
		conn.Close(CloseGoingAway, CloseGoingAwayText)
		closed++
	}
	h.metrics.SetWebSocketConnections(h.registry.Count())
	return closed
}

// Heartbeat refreshes the presence mirror for a live connection
func (h *RelayHub) Heartbeat(ctx context.Context, userID uuid.UUID) {
	if h.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, constants.MirrorTimeout)
	defer cancel()
	if err := h.mirror.RefreshPresence(mctx, userID); err != nil {
		logger.Debug("Failed to refresh presence mirror", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// BroadcastPresence sends a fresh snapshot to every connected user
func (h *RelayHub) BroadcastPresence(ctx context.Context) {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	data, ok := h.snapshotFrame(ctx)
	if !ok {
		return
	}
	dropped := h.registry.Broadcast(data)
	for i := 0; i < dropped; i++ {
		h.metrics.RecordDroppedFrame()
	}
	h.metrics.RecordWebSocketMessage(TypeUsersUpdate, "outbound")
}

// Snapshot builds the presence view of every known user
func (h *RelayHub) Snapshot(ctx context.Context) ([]domain.PublicProfile, error) {
	users, err := h.directory.List(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]domain.PublicProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, domain.NewPublicProfile(u, h.registry.IsConnected(u.UserID)))
	}
	return profiles, nil
}

func (h *RelayHub) snapshotFrame(ctx context.Context) ([]byte, bool) {
	profiles, err := h.Snapshot(ctx)
	if err != nil {
		logger.Error("Failed to build presence snapshot", zap.Error(err))
		return nil, false
	}
	data, err := json.Marshal(newUsersUpdate(profiles))
	if err != nil {
		logger.Error("Failed to encode presence snapshot", zap.Error(err))
		return nil, false
	}
	return data, true
}

// HandleMessage dispatches one inbound frame from sender's connection
func (h *RelayHub) HandleMessage(ctx context.Context, sender *domain.User, conn Conn, data []byte) {
	msg, err := decodeClientMessage(data)
	if err != nil {
		h.reject(conn, ErrInvalidFormat, "")
		return
	}
	if !isKnownType(msg.Type) {
		h.metrics.RecordWebSocketMessage("unsupported", "inbound")
		h.reject(conn, ErrUnsupportedType, "")
		return
	}
	h.metrics.RecordWebSocketMessage(msg.Type, "inbound")

	switch {
	case msg.Type == TypeChat:
		h.handleChat(ctx, sender, conn, msg)
	case isSignalType(msg.Type):
		h.handleSignal(ctx, sender, conn, msg)
	case msg.Type == TypeCallInitiate:
		h.handleCallInitiate(ctx, sender, conn, msg)
	case msg.Type == TypeCallAccept:
		h.handleCallAccept(ctx, sender, conn)
	case msg.Type == TypeCallReject, msg.Type == TypeCallEnd:
		h.handleCallTeardown(ctx, sender, conn, msg.Type)
	}
}

func (h *RelayHub) handleChat(ctx context.Context, sender *domain.User, conn Conn, msg *ClientMessage) {
	recipient, ok := h.resolve(ctx, msg.To)
	if !ok {
		h.reject(conn, ErrRecipientNotFound, TypeChat)
		return
	}

	chat := newChat(sender.UserID.String(), msg.Message, h.now())
	h.sendTo(recipient.UserID, chat)
	if recipient.UserID != sender.UserID {
		h.send(conn, chat)
	}
}

func (h *RelayHub) handleSignal(ctx context.Context, sender *domain.User, conn Conn, msg *ClientMessage) {
	recipient, ok := h.resolve(ctx, msg.To)
	if !ok {
		h.reject(conn, ErrRecipientNotFound, msg.Type)
		return
	}

	h.sendTo(recipient.UserID, newSignal(msg.Type, sender.UserID.String(), msg.Payload))
}

func (h *RelayHub) handleCallInitiate(ctx context.Context, sender *domain.User, conn Conn, msg *ClientMessage) {
	recipient, ok := h.resolve(ctx, msg.To)
	if !ok {
		h.reject(conn, ErrRecipientNotFound, TypeCallInitiate)
		return
	}

	var doctorID, patientID uuid.UUID
	var unavailable, inCall string
	switch {
	case sender.Role == domain.RolePatient && recipient.Role == domain.RoleDoctor:
		doctorID, patientID = recipient.UserID, sender.UserID
		unavailable, inCall = ErrDoctorUnavailable, ErrSelfInCall
	case sender.Role == domain.RoleDoctor && recipient.Role == domain.RolePatient:
		doctorID, patientID = sender.UserID, recipient.UserID
		unavailable, inCall = ErrSelfUnavailable, ErrPatientInCall
	default:
		h.reject(conn, ErrInvalidPair, TypeCallInitiate)
		return
	}

	if reason := h.beginCall(ctx, sender.UserID, doctorID, patientID, unavailable, inCall); reason != "" {
		h.metrics.RecordCall("refused")
		h.reject(conn, reason, TypeCallInitiate)
		return
	}
	h.metrics.RecordCall("initiated")
	h.metrics.SetActiveCalls(h.calls.Active())

	event := newCallEvent(TypeCallInitiate, sender.UserID.String())
	h.sendTo(recipient.UserID, event)
	h.send(conn, event)

	h.BroadcastPresence(ctx)
}

// beginCall marks the doctor BUSY and tracks the session in one step.
// It returns the error text to report, or "" on success.
func (h *RelayHub) beginCall(ctx context.Context, initiatorID, doctorID, patientID uuid.UUID, unavailable, inCall string) string {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	doctor, err := h.directory.GetByID(ctx, doctorID)
	if err != nil {
		logger.Warn("Failed to load doctor for call", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		return ErrCallSetupFailed
	}
	if doctor.Availability != domain.AvailabilityOnline {
		return unavailable
	}
	if h.calls.InCall(patientID) {
		return inCall
	}

	if _, err := h.directory.SetAvailability(ctx, doctorID, domain.AvailabilityBusy); err != nil {
		logger.Error("Failed to mark doctor busy", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		return ErrCallSetupFailed
	}

	session, err := h.calls.Begin(doctorID, patientID)
	if err != nil {
		h.restoreAvailability(ctx, doctorID)
		return inCall
	}

	h.recordCall(ctx, "create", session.ID, func(ctx context.Context) error {
		return h.callLog.Create(ctx, &domain.CallRecord{
			CallID:      session.ID,
			DoctorID:    doctorID,
			PatientID:   patientID,
			InitiatorID: initiatorID,
			Status:      domain.CallRinging,
			StartedAt:   session.StartedAt,
		})
	})

	logger.Info("Call started",
		zap.String("call_id", session.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.String("patient_id", patientID.String()))
	return ""
}

func (h *RelayHub) handleCallAccept(ctx context.Context, sender *domain.User, conn Conn) {
	session, ok := h.calls.Session(sender.UserID)
	if !ok {
		h.reject(conn, ErrNoActiveCall, TypeCallAccept)
		return
	}
	h.metrics.RecordCall("accepted")
	h.sendTo(session.Counterpart(sender.UserID), newCallEvent(TypeCallAccept, sender.UserID.String()))

	h.recordCall(ctx, "answer", session.ID, func(ctx context.Context) error {
		return h.callLog.MarkAnswered(ctx, session.ID, h.now())
	})
}

func (h *RelayHub) handleCallTeardown(ctx context.Context, sender *domain.User, conn Conn, eventType string) {
	status := domain.CallEnded
	if eventType == TypeCallReject {
		status = domain.CallRejected
	}

	session, ok := h.endCall(ctx, sender.UserID, status)
	if !ok {
		h.reject(conn, ErrNoActiveCall, eventType)
		return
	}
	h.metrics.RecordCall(strings.ToLower(string(status)))

	h.sendTo(session.Counterpart(sender.UserID), newCallEvent(eventType, sender.UserID.String()))
	h.BroadcastPresence(ctx)
}

// endCall removes userID's session and returns its doctor to ONLINE
func (h *RelayHub) endCall(ctx context.Context, userID uuid.UUID, status domain.CallStatus) (*CallSession, bool) {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	session, ok := h.calls.End(userID)
	if !ok {
		return nil, false
	}
	h.restoreAvailability(ctx, session.DoctorID)

	endedAt := h.now()
	h.recordCall(ctx, "finish", session.ID, func(ctx context.Context) error {
		return h.callLog.Finish(ctx, session.ID, status, endedAt)
	})

	h.metrics.RecordCallDuration(endedAt.Sub(session.StartedAt))
	h.metrics.SetActiveCalls(h.calls.Active())
	logger.Info("Call ended",
		zap.String("call_id", session.ID.String()),
		zap.String("status", string(status)),
		zap.String("doctor_id", session.DoctorID.String()),
		zap.String("patient_id", session.PatientID.String()))

	return session, true
}

func (h *RelayHub) restoreAvailability(ctx context.Context, doctorID uuid.UUID) {
	if _, err := h.directory.SetAvailability(ctx, doctorID, domain.AvailabilityOnline); err != nil {
		logger.Error("Failed to restore doctor availability", zap.String("doctor_id", doctorID.String()), zap.Error(err))
	}
}

// UpdateAvailability changes a doctor's availability unless the doctor is in a call
func (h *RelayHub) UpdateAvailability(ctx context.Context, doctorID uuid.UUID, availability domain.Availability) (*domain.User, error) {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	if h.calls.InCall(doctorID) {
		return nil, apperrors.DoctorInCallError()
	}
	return h.directory.SetAvailability(ctx, doctorID, availability)
}

// resolve looks up a recipient id. Malformed ids and unknown users do not resolve.
func (h *RelayHub) resolve(ctx context.Context, to string) (*domain.User, bool) {
	id, err := uuid.Parse(to)
	if err != nil {
		return nil, false
	}
	user, err := h.directory.GetByID(ctx, id)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
			logger.Warn("Failed to resolve recipient", zap.String("to", to), zap.Error(err))
		}
		return nil, false
	}
	return user, true
}

func (h *RelayHub) reject(conn Conn, message, frameType string) {
	h.metrics.RecordWebSocketError(message)
	h.send(conn, newError(message, frameType))
}

func (h *RelayHub) send(conn Conn, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode relay frame", zap.String("type", msg.MessageType()), zap.Error(err))
		return
	}
	h.deliver(conn, data, msg.MessageType())
}

func (h *RelayHub) deliver(conn Conn, data []byte, msgType string) {
	if !conn.Send(data) {
		h.metrics.RecordDroppedFrame()
		return
	}
	h.metrics.RecordWebSocketMessage(msgType, "outbound")
}

func (h *RelayHub) sendTo(userID uuid.UUID, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode relay frame", zap.String("type", msg.MessageType()), zap.Error(err))
		return
	}
	if h.registry.Send(userID, data) {
		h.metrics.RecordWebSocketMessage(msg.MessageType(), "outbound")
	}
}

func (h *RelayHub) mirrorOnline(ctx context.Context, userID uuid.UUID) {
	if h.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, constants.MirrorTimeout)
	defer cancel()
	if err := h.mirror.SetUserOnline(mctx, userID); err != nil {
		logger.Debug("Failed to mirror presence", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (h *RelayHub) mirrorOffline(ctx context.Context, userID uuid.UUID) {
	if h.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, constants.MirrorTimeout)
	defer cancel()
	if err := h.mirror.SetUserOffline(mctx, userID); err != nil {
		logger.Debug("Failed to mirror presence", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (h *RelayHub) recordCall(ctx context.Context, op string, callID uuid.UUID, write func(ctx context.Context) error) {
	if h.callLog == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, constants.CallLogTimeout)
	defer cancel()
	if err := write(wctx); err != nil {
		logger.Warn("Failed to record call history",
			zap.String("op", op),
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}
}
