package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/repository/memory"
	apperrors "carelink-backend/pkg/errors"
)

// fakeConn records frames instead of writing them to a socket
type fakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	full        bool
	closed      bool
	closeCode   int
	closeReason string
}

func (f *fakeConn) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return true
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
}

func (f *fakeConn) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.frames))
	for _, frame := range f.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(frame, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) ofType(msgType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range f.messages() {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) last() map[string]interface{} {
	msgs := f.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

type relayFixture struct {
	hub     *RelayHub
	users   *memory.UserRepository
	calls   *memory.CallRepository
	doctor  *domain.User
	patient *domain.User
	other   *domain.User
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	ctx := context.Background()
	users := memory.NewUserRepository()

	doctor := &domain.User{Name: "Dr. Mehta", Email: "doc@example.com", Role: domain.RoleDoctor, PasswordHash: "x", Availability: domain.AvailabilityOnline}
	patient := &domain.User{Name: "Asha", Email: "asha@example.com", Role: domain.RolePatient, PasswordHash: "x"}
	other := &domain.User{Name: "Ravi", Email: "ravi@example.com", Role: domain.RolePatient, PasswordHash: "x"}
	for _, u := range []*domain.User{doctor, patient, other} {
		require.NoError(t, users.Create(ctx, u))
	}

	calls := memory.NewCallRepository()
	hub := NewRelayHub(users, NewNotifier(), HubOptions{CallLog: calls})
	hub.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	return &relayFixture{hub: hub, users: users, calls: calls, doctor: doctor, patient: patient, other: other}
}

func (f *relayFixture) connect(u *domain.User) *fakeConn {
	conn := &fakeConn{}
	f.hub.Admit(context.Background(), u, conn)
	return conn
}

func (f *relayFixture) send(u *domain.User, conn *fakeConn, frame string) {
	f.hub.HandleMessage(context.Background(), u, conn, []byte(frame))
}

func (f *relayFixture) availability(t *testing.T, id uuid.UUID) domain.Availability {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u.Availability
}

func (f *relayFixture) history(t *testing.T, id uuid.UUID) []*domain.CallRecord {
	t.Helper()
	calls, err := f.calls.ListByUser(context.Background(), id, 10, 0)
	require.NoError(t, err)
	return calls
}

func frame(t *testing.T, v map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestRelayHub_AdmitSendsSnapshot(t *testing.T) {
	f := newRelayFixture(t)

	conn := f.connect(f.patient)

	updates := conn.ofType(TypeUsersUpdate)
	require.NotEmpty(t, updates)
	users := updates[0]["users"].([]interface{})
	assert.Len(t, users, 3)

	for _, raw := range users {
		u := raw.(map[string]interface{})
		switch u["id"] {
		case f.patient.UserID.String():
			assert.Equal(t, true, u["connected"])
			assert.NotContains(t, u, "availability")
		case f.doctor.UserID.String():
			assert.Equal(t, false, u["connected"])
			assert.Equal(t, "ONLINE", u["availability"])
		}
		assert.NotContains(t, u, "email")
	}
	assert.True(t, f.hub.IsConnected(f.patient.UserID))
}

func TestRelayHub_InvalidFrames(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.connect(f.patient)

	tests := []struct {
		name    string
		payload string
		message string
	}{
		{"not json", "{not json", ErrInvalidFormat},
		{"truncated", `{"type":"chat"`, ErrInvalidFormat},
		{"missing type", `{"to":"x"}`, ErrUnsupportedType},
		{"numeric type", `{"type":5}`, ErrUnsupportedType},
		{"empty type", `{"type":""}`, ErrUnsupportedType},
		{"array frame", `["chat"]`, ErrUnsupportedType},
		{"bare number", `42`, ErrUnsupportedType},
		{"unknown type", `{"type":"dance"}`, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.reset()
			f.send(f.patient, conn, tt.payload)

			msg := conn.last()
			require.NotNil(t, msg)
			assert.Equal(t, TypeError, msg["type"])
			assert.Equal(t, tt.message, msg["message"])
			assert.NotContains(t, msg, "context")
		})
	}
	assert.True(t, f.hub.IsConnected(f.patient.UserID))
}

func TestRelayHub_MistypedFieldsAreUndeliverable(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	doctorID := f.doctor.UserID.String()

	tests := []struct {
		name    string
		payload string
		context string
	}{
		{"numeric recipient", `{"type":"chat","to":5,"message":"hi"}`, TypeChat},
		{"object message", `{"type":"chat","to":"` + doctorID + `","message":{"text":"hi"}}`, TypeChat},
		{"array recipient", `{"type":"webrtc-offer","to":["` + doctorID + `"],"payload":{}}`, TypeOffer},
		{"boolean recipient", `{"type":"call-initiate","to":true}`, TypeCallInitiate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patientConn.reset()
			doctorConn.reset()
			f.send(f.patient, patientConn, tt.payload)

			msg := patientConn.last()
			require.NotNil(t, msg)
			assert.Equal(t, TypeError, msg["type"])
			assert.Equal(t, ErrRecipientNotFound, msg["message"])
			assert.Equal(t, tt.context, msg["context"])
			assert.Empty(t, doctorConn.messages())
		})
	}
	assert.False(t, f.hub.InCall(f.patient.UserID))
}

func TestRelayHub_Chat(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	patientConn.reset()
	doctorConn.reset()

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeChat, "to": f.doctor.UserID.String(), "message": "hello doctor",
	}))

	received := doctorConn.ofType(TypeChat)
	require.Len(t, received, 1)
	assert.Equal(t, f.patient.UserID.String(), received[0]["from"])
	assert.Equal(t, "hello doctor", received[0]["message"])
	assert.Equal(t, "2024-05-01T10:00:00.000Z", received[0]["sentAt"])

	echoed := patientConn.ofType(TypeChat)
	require.Len(t, echoed, 1)
	assert.Equal(t, received[0], echoed[0])
}

func TestRelayHub_ChatToSelfDeliversOnce(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.connect(f.patient)
	conn.reset()

	f.send(f.patient, conn, frame(t, map[string]interface{}{
		"type": TypeChat, "to": f.patient.UserID.String(), "message": "note to self",
	}))

	assert.Len(t, conn.ofType(TypeChat), 1)
}

func TestRelayHub_ChatToDisconnectedUser(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.connect(f.patient)
	conn.reset()

	f.send(f.patient, conn, frame(t, map[string]interface{}{
		"type": TypeChat, "to": f.doctor.UserID.String(), "message": "are you there?",
	}))

	assert.Len(t, conn.ofType(TypeChat), 1)
	assert.Empty(t, conn.ofType(TypeError))
}

func TestRelayHub_UnresolvableRecipient(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.connect(f.patient)

	for _, msgType := range []string{TypeChat, TypeOffer, TypeAnswer, TypeICECandidate, TypeCallInitiate} {
		t.Run(msgType, func(t *testing.T) {
			for _, to := range []string{uuid.NewString(), "not-a-uuid", ""} {
				conn.reset()
				f.send(f.patient, conn, frame(t, map[string]interface{}{"type": msgType, "to": to}))

				msg := conn.last()
				require.NotNil(t, msg)
				assert.Equal(t, TypeError, msg["type"])
				assert.Equal(t, ErrRecipientNotFound, msg["message"])
				assert.Equal(t, msgType, msg["context"])
			}
		})
	}
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_SignalsForwardPayloadVerbatim(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	doctorConn.reset()
	patientConn.reset()

	payload := `{"sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1","type":"offer","extra":[1,2,3]}`
	f.send(f.patient, patientConn, `{"type":"webrtc-offer","to":"`+f.doctor.UserID.String()+`","payload":`+payload+`}`)

	doctorConn.mu.Lock()
	require.Len(t, doctorConn.frames, 1)
	var got SignalMessage
	require.NoError(t, json.Unmarshal(doctorConn.frames[0], &got))
	doctorConn.mu.Unlock()

	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, f.patient.UserID.String(), got.From)
	assert.JSONEq(t, payload, string(got.Payload))
	assert.Empty(t, patientConn.messages())
}

func TestRelayHub_PatientCallsAvailableDoctor(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	patientConn.reset()
	doctorConn.reset()

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))

	for _, conn := range []*fakeConn{patientConn, doctorConn} {
		events := conn.ofType(TypeCallInitiate)
		require.Len(t, events, 1)
		assert.Equal(t, f.patient.UserID.String(), events[0]["from"])

		updates := conn.ofType(TypeUsersUpdate)
		require.NotEmpty(t, updates)
		for _, raw := range updates[len(updates)-1]["users"].([]interface{}) {
			u := raw.(map[string]interface{})
			if u["id"] == f.doctor.UserID.String() {
				assert.Equal(t, "BUSY", u["availability"])
			}
		}
	}

	assert.Equal(t, domain.AvailabilityBusy, f.availability(t, f.doctor.UserID))
	assert.True(t, f.hub.InCall(f.doctor.UserID))
	assert.True(t, f.hub.InCall(f.patient.UserID))
}

func TestRelayHub_PatientCallsBusyDoctor(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	_, err := f.users.SetAvailability(ctx, f.doctor.UserID, domain.AvailabilityBusy)
	require.NoError(t, err)

	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	patientConn.reset()
	doctorConn.reset()

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))

	msg := patientConn.last()
	require.NotNil(t, msg)
	assert.Equal(t, TypeError, msg["type"])
	assert.Equal(t, ErrDoctorUnavailable, msg["message"])
	assert.Equal(t, TypeCallInitiate, msg["context"])
	assert.Empty(t, doctorConn.messages())
	assert.False(t, f.hub.InCall(f.patient.UserID))
}

func TestRelayHub_DoctorInitiatesCall(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	t.Run("busy doctor cannot initiate", func(t *testing.T) {
		_, err := f.users.SetAvailability(context.Background(), f.doctor.UserID, domain.AvailabilityBusy)
		require.NoError(t, err)
		doctorConn.reset()

		f.send(f.doctor, doctorConn, frame(t, map[string]interface{}{
			"type": TypeCallInitiate, "to": f.patient.UserID.String(),
		}))

		msg := doctorConn.last()
		require.NotNil(t, msg)
		assert.Equal(t, ErrSelfUnavailable, msg["message"])
		assert.Equal(t, TypeCallInitiate, msg["context"])
	})

	t.Run("online doctor starts call", func(t *testing.T) {
		_, err := f.users.SetAvailability(context.Background(), f.doctor.UserID, domain.AvailabilityOnline)
		require.NoError(t, err)
		doctorConn.reset()
		patientConn.reset()

		f.send(f.doctor, doctorConn, frame(t, map[string]interface{}{
			"type": TypeCallInitiate, "to": f.patient.UserID.String(),
		}))

		require.Len(t, patientConn.ofType(TypeCallInitiate), 1)
		assert.Equal(t, f.doctor.UserID.String(), patientConn.ofType(TypeCallInitiate)[0]["from"])
		assert.Len(t, doctorConn.ofType(TypeCallInitiate), 1)
		assert.Equal(t, domain.AvailabilityBusy, f.availability(t, f.doctor.UserID))
	})
}

func TestRelayHub_InvalidCallPairs(t *testing.T) {
	f := newRelayFixture(t)
	secondDoctor := &domain.User{Name: "Dr. Iyer", Email: "iyer@example.com", Role: domain.RoleDoctor, PasswordHash: "x", Availability: domain.AvailabilityOnline}
	require.NoError(t, f.users.Create(context.Background(), secondDoctor))

	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	tests := []struct {
		name   string
		sender *domain.User
		conn   *fakeConn
		to     uuid.UUID
	}{
		{"patient to patient", f.patient, patientConn, f.other.UserID},
		{"doctor to doctor", f.doctor, doctorConn, secondDoctor.UserID},
		{"patient to self", f.patient, patientConn, f.patient.UserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.conn.reset()
			f.send(tt.sender, tt.conn, frame(t, map[string]interface{}{
				"type": TypeCallInitiate, "to": tt.to.String(),
			}))

			msg := tt.conn.last()
			require.NotNil(t, msg)
			assert.Equal(t, ErrInvalidPair, msg["message"])
			assert.Equal(t, TypeCallInitiate, msg["context"])
		})
	}
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_PatientAlreadyInCall(t *testing.T) {
	f := newRelayFixture(t)
	secondDoctor := &domain.User{Name: "Dr. Iyer", Email: "iyer@example.com", Role: domain.RoleDoctor, PasswordHash: "x", Availability: domain.AvailabilityOnline}
	require.NoError(t, f.users.Create(context.Background(), secondDoctor))

	patientConn := f.connect(f.patient)
	f.connect(f.doctor)
	secondConn := f.connect(secondDoctor)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))
	require.True(t, f.hub.InCall(f.patient.UserID))

	secondConn.reset()
	f.send(secondDoctor, secondConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.patient.UserID.String(),
	}))

	msg := secondConn.last()
	require.NotNil(t, msg)
	assert.Equal(t, ErrPatientInCall, msg["message"])
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, secondDoctor.UserID))
}

func TestRelayHub_AcceptAndEnd(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))

	patientConn.reset()
	f.send(f.doctor, doctorConn, `{"type":"call-accept"}`)
	accepted := patientConn.ofType(TypeCallAccept)
	require.Len(t, accepted, 1)
	assert.Equal(t, f.doctor.UserID.String(), accepted[0]["from"])
	assert.True(t, f.hub.InCall(f.doctor.UserID))

	doctorConn.reset()
	f.send(f.patient, patientConn, `{"type":"call-end"}`)
	ended := doctorConn.ofType(TypeCallEnd)
	require.Len(t, ended, 1)
	assert.Equal(t, f.patient.UserID.String(), ended[0]["from"])

	assert.False(t, f.hub.InCall(f.doctor.UserID))
	assert.False(t, f.hub.InCall(f.patient.UserID))
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
	assert.NotEmpty(t, doctorConn.ofType(TypeUsersUpdate))
}

func TestRelayHub_Reject(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))

	patientConn.reset()
	f.send(f.doctor, doctorConn, `{"type":"call-reject"}`)

	rejected := patientConn.ofType(TypeCallReject)
	require.Len(t, rejected, 1)
	assert.Equal(t, f.doctor.UserID.String(), rejected[0]["from"])
	assert.False(t, f.hub.InCall(f.patient.UserID))
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_NoActiveCall(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.connect(f.patient)

	for _, msgType := range []string{TypeCallAccept, TypeCallReject, TypeCallEnd} {
		conn.reset()
		f.send(f.patient, conn, `{"type":"`+msgType+`"}`)

		msg := conn.last()
		require.NotNil(t, msg)
		assert.Equal(t, ErrNoActiveCall, msg["message"])
		assert.Equal(t, msgType, msg["context"])
	}
}

func TestRelayHub_DisconnectDuringCall(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))
	require.Equal(t, domain.AvailabilityBusy, f.availability(t, f.doctor.UserID))

	patientConn.reset()
	f.hub.Disconnect(context.Background(), f.doctor, doctorConn)

	ended := patientConn.ofType(TypeCallEnd)
	require.Len(t, ended, 1)
	assert.Equal(t, f.doctor.UserID.String(), ended[0]["from"])

	// one broadcast for the teardown, one for the disconnect
	updates := patientConn.ofType(TypeUsersUpdate)
	require.Len(t, updates, 2)
	for _, raw := range updates[len(updates)-1]["users"].([]interface{}) {
		u := raw.(map[string]interface{})
		if u["id"] == f.doctor.UserID.String() {
			assert.Equal(t, false, u["connected"])
			assert.Equal(t, "ONLINE", u["availability"])
		}
	}

	assert.False(t, f.hub.IsConnected(f.doctor.UserID))
	assert.False(t, f.hub.InCall(f.patient.UserID))
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_DisconnectWithoutCallBroadcastsOnce(t *testing.T) {
	f := newRelayFixture(t)
	doctorConn := f.connect(f.doctor)
	patientConn := f.connect(f.patient)

	patientConn.reset()
	f.hub.Disconnect(context.Background(), f.doctor, doctorConn)

	assert.Len(t, patientConn.ofType(TypeUsersUpdate), 1)
	assert.Empty(t, patientConn.ofType(TypeCallEnd))
}

func TestRelayHub_DisconnectIsIdempotent(t *testing.T) {
	f := newRelayFixture(t)
	doctorConn := f.connect(f.doctor)
	patientConn := f.connect(f.patient)

	f.hub.Disconnect(context.Background(), f.doctor, doctorConn)
	patientConn.reset()
	f.hub.Disconnect(context.Background(), f.doctor, doctorConn)

	assert.Empty(t, patientConn.messages())
}

func TestRelayHub_SupersedeKeepsNewConnection(t *testing.T) {
	f := newRelayFixture(t)
	first := f.connect(f.patient)
	second := f.connect(f.patient)

	assert.True(t, first.closed)
	assert.Equal(t, CloseSuperseded, first.closeCode)
	assert.Equal(t, CloseSupersededText, first.closeReason)
	assert.False(t, second.closed)

	// The old connection's teardown must not unregister the new one
	f.hub.Disconnect(context.Background(), f.patient, first)
	assert.True(t, f.hub.IsConnected(f.patient.UserID))

	second.reset()
	doctorConn := f.connect(f.doctor)
	f.send(f.doctor, doctorConn, frame(t, map[string]interface{}{
		"type": TypeChat, "to": f.patient.UserID.String(), "message": "hi",
	}))
	assert.Len(t, second.ofType(TypeChat), 1)
}

func TestRelayHub_UpdateAvailability(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	updated, err := f.hub.UpdateAvailability(ctx, f.doctor.UserID, domain.AvailabilityBusy)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityBusy, updated.Availability)

	_, err = f.hub.UpdateAvailability(ctx, f.doctor.UserID, domain.AvailabilityOnline)
	require.NoError(t, err)

	patientConn := f.connect(f.patient)
	f.connect(f.doctor)
	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))

	_, err = f.hub.UpdateAvailability(ctx, f.doctor.UserID, domain.AvailabilityOnline)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDoctorInCall))
	assert.Equal(t, domain.AvailabilityBusy, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_ConcurrentInitiateSingleWinner(t *testing.T) {
	f := newRelayFixture(t)
	f.connect(f.doctor)

	patients := make([]*domain.User, 0, 10)
	conns := make([]*fakeConn, 0, 10)
	for i := 0; i < 10; i++ {
		p := &domain.User{Name: "Patient", Email: uuid.NewString() + "@example.com", Role: domain.RolePatient, PasswordHash: "x"}
		require.NoError(t, f.users.Create(context.Background(), p))
		patients = append(patients, p)
		conns = append(conns, f.connect(p))
	}

	msg := frame(t, map[string]interface{}{"type": TypeCallInitiate, "to": f.doctor.UserID.String()})
	var wg sync.WaitGroup
	for i := range patients {
		conns[i].reset()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.send(patients[i], conns[i], msg)
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, conn := range conns {
		if len(conn.ofType(TypeCallInitiate)) > 0 {
			winners++
		}
		for _, e := range conn.ofType(TypeError) {
			if e["message"] == ErrDoctorUnavailable {
				losers++
			}
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 9, losers)
	assert.Equal(t, 1, f.hub.calls.Active())
}

func TestRelayHub_SlowPeerDoesNotBlock(t *testing.T) {
	f := newRelayFixture(t)
	doctorConn := f.connect(f.doctor)
	patientConn := f.connect(f.patient)
	doctorConn.full = true
	patientConn.reset()

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeChat, "to": f.doctor.UserID.String(), "message": "ping",
	}))

	assert.Len(t, patientConn.ofType(TypeChat), 1)
	assert.True(t, f.hub.IsConnected(f.doctor.UserID))
}

func TestRelayHub_NotifierBroadcasts(t *testing.T) {
	users := memory.NewUserRepository()
	notifier := NewNotifier()
	hub := NewRelayHub(users, notifier, HubOptions{})

	patient := &domain.User{Name: "Asha", Email: "asha@example.com", Role: domain.RolePatient, PasswordHash: "x"}
	require.NoError(t, users.Create(context.Background(), patient))
	conn := &fakeConn{}
	hub.Admit(context.Background(), patient, conn)
	conn.reset()

	notifier.NotifyPresenceChanged()

	assert.Len(t, conn.ofType(TypeUsersUpdate), 1)
}

func TestRelayHub_RecordsCallHistory(t *testing.T) {
	tests := []struct {
		name   string
		finish func(f *relayFixture, doctorConn, patientConn *fakeConn)
		want   domain.CallStatus
		answer bool
	}{
		{
			name: "answered and ended",
			finish: func(f *relayFixture, doctorConn, patientConn *fakeConn) {
				f.send(f.doctor, doctorConn, `{"type":"call-accept"}`)
				f.send(f.patient, patientConn, `{"type":"call-end"}`)
			},
			want:   domain.CallEnded,
			answer: true,
		},
		{
			name: "rejected",
			finish: func(f *relayFixture, doctorConn, patientConn *fakeConn) {
				f.send(f.doctor, doctorConn, `{"type":"call-reject"}`)
			},
			want: domain.CallRejected,
		},
		{
			name: "dropped on disconnect",
			finish: func(f *relayFixture, doctorConn, patientConn *fakeConn) {
				f.send(f.doctor, doctorConn, `{"type":"call-accept"}`)
				f.hub.Disconnect(context.Background(), f.patient, patientConn)
			},
			want:   domain.CallDropped,
			answer: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t)
			patientConn := f.connect(f.patient)
			doctorConn := f.connect(f.doctor)

			f.send(f.patient, patientConn, frame(t, map[string]interface{}{
				"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
			}))

			ringing := f.history(t, f.doctor.UserID)
			require.Len(t, ringing, 1)
			assert.Equal(t, domain.CallRinging, ringing[0].Status)
			assert.Equal(t, f.patient.UserID, ringing[0].InitiatorID)

			tt.finish(f, doctorConn, patientConn)

			calls := f.history(t, f.patient.UserID)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Status)
			assert.Equal(t, tt.answer, calls[0].AnsweredAt != nil)
			assert.NotNil(t, calls[0].EndedAt)
		})
	}
}

type failingCallLog struct{}

func (failingCallLog) Create(context.Context, *domain.CallRecord) error {
	return errors.New("history unavailable")
}

func (failingCallLog) MarkAnswered(context.Context, uuid.UUID, time.Time) error {
	return errors.New("history unavailable")
}

func (failingCallLog) Finish(context.Context, uuid.UUID, domain.CallStatus, time.Time) error {
	return errors.New("history unavailable")
}

func TestRelayHub_CallLogFailureDoesNotAffectCall(t *testing.T) {
	f := newRelayFixture(t)
	f.hub.callLog = failingCallLog{}
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))
	require.True(t, f.hub.InCall(f.patient.UserID))
	require.Len(t, doctorConn.ofType(TypeCallInitiate), 1)

	f.send(f.doctor, doctorConn, `{"type":"call-accept"}`)
	require.Len(t, patientConn.ofType(TypeCallAccept), 1)

	f.send(f.doctor, doctorConn, `{"type":"call-end"}`)
	assert.False(t, f.hub.InCall(f.patient.UserID))
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))
}

func TestRelayHub_ShutdownClosesEveryConnection(t *testing.T) {
	f := newRelayFixture(t)
	patientConn := f.connect(f.patient)
	doctorConn := f.connect(f.doctor)
	otherConn := f.connect(f.other)

	f.send(f.patient, patientConn, frame(t, map[string]interface{}{
		"type": TypeCallInitiate, "to": f.doctor.UserID.String(),
	}))
	require.True(t, f.hub.InCall(f.doctor.UserID))

	assert.Equal(t, 3, f.hub.Shutdown(context.Background()))

	for _, conn := range []*fakeConn{patientConn, doctorConn, otherConn} {
		assert.True(t, conn.closed)
		assert.Equal(t, CloseGoingAway, conn.closeCode)
		assert.Equal(t, CloseGoingAwayText, conn.closeReason)
	}
	assert.False(t, f.hub.IsConnected(f.patient.UserID))
	assert.False(t, f.hub.IsConnected(f.doctor.UserID))
	assert.False(t, f.hub.InCall(f.patient.UserID))
	assert.Equal(t, domain.AvailabilityOnline, f.availability(t, f.doctor.UserID))

	history := f.history(t, f.patient.UserID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.CallDropped, history[0].Status)

	// read pumps exiting after shutdown find nothing left to tear down
	f.hub.Disconnect(context.Background(), f.doctor, doctorConn)
	assert.Equal(t, 0, f.hub.Shutdown(context.Background()))
}
