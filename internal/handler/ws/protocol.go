package ws

import (
	"encoding/json"
	"errors"
	"time"

	"carelink-backend/internal/domain"
)

// Relay frame types
const (
	TypeUsersUpdate     = "users-update"
	TypeChat            = "chat"
	TypeOffer           = "webrtc-offer"
	TypeAnswer          = "webrtc-answer"
	TypeICECandidate    = "webrtc-ice-candidate"
	TypeCallInitiate    = "call-initiate"
	TypeCallAccept      = "call-accept"
	TypeCallReject      = "call-reject"
	TypeCallEnd         = "call-end"
	TypeError           = "error"
	CloseSuperseded     = 4000
	CloseSupersededText = "Another session connected"
	CloseGoingAway      = 1001
	CloseGoingAwayText  = "Server shutting down"
)

// Error messages sent in error frames
const (
	ErrInvalidFormat     = "Invalid message format"
	ErrUnsupportedType   = "Unsupported message type"
	ErrRecipientNotFound = "Recipient not found"
	ErrDoctorUnavailable = "Doctor is not available"
	ErrSelfUnavailable   = "You must be available to initiate calls"
	ErrInvalidPair       = "Calls can only be established between a doctor and a patient"
	ErrPatientInCall     = "Patient is already in a call"
	ErrSelfInCall        = "You are already in a call"
	ErrNoActiveCall      = "No active call found"
	ErrCallSetupFailed   = "Unable to start call"
)

// ClientMessage is an inbound frame
type ClientMessage struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the closed set of outbound frames
type ServerMessage interface {
	MessageType() string
}

// UsersUpdateMessage carries a full presence snapshot
type UsersUpdateMessage struct {
	Type  string                 `json:"type"`
	Users []domain.PublicProfile `json:"users"`
}

// ChatMessage is a relayed chat line
type ChatMessage struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
	SentAt  string `json:"sentAt"`
}

// SignalMessage relays an opaque WebRTC payload
type SignalMessage struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CallEventMessage announces a call lifecycle step
type CallEventMessage struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// ErrorMessage reports a rejected frame to its sender
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (m *UsersUpdateMessage) MessageType() string { return m.Type }
func (m *ChatMessage) MessageType() string        { return m.Type }
func (m *SignalMessage) MessageType() string      { return m.Type }
func (m *CallEventMessage) MessageType() string   { return m.Type }
func (m *ErrorMessage) MessageType() string       { return m.Type }

func newUsersUpdate(users []domain.PublicProfile) *UsersUpdateMessage {
	if users == nil {
		users = []domain.PublicProfile{}
	}
	return &UsersUpdateMessage{Type: TypeUsersUpdate, Users: users}
}

func newChat(from, message string, sentAt time.Time) *ChatMessage {
	return &ChatMessage{
		Type:    TypeChat,
		From:    from,
		Message: message,
		SentAt:  sentAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func newSignal(signalType, from string, payload json.RawMessage) *SignalMessage {
	return &SignalMessage{Type: signalType, From: from, Payload: payload}
}

func newCallEvent(eventType, from string) *CallEventMessage {
	return &CallEventMessage{Type: eventType, From: from}
}

func newError(message, context string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Message: message, Context: context}
}

var errMalformedFrame = errors.New("frame is not valid JSON")

// decodeClientMessage parses an inbound frame. It only fails when data is not
// JSON at all. A frame that is not an object, or whose type is missing or not
// a string, comes back with an empty Type. If to or message has the wrong
// JSON type, To is cleared so the frame cannot reach anyone.
func decodeClientMessage(data []byte) (*ClientMessage, error) {
	if !json.Valid(data) {
		return nil, errMalformedFrame
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &ClientMessage{}, nil
	}

	msg := &ClientMessage{Payload: fields["payload"]}
	decodeString(fields["type"], &msg.Type)
	toOK := decodeString(fields["to"], &msg.To)
	messageOK := decodeString(fields["message"], &msg.Message)
	if !toOK || !messageOK {
		msg.To = ""
	}
	return msg, nil
}

// decodeString reports false when raw is present but not a JSON string or null
func decodeString(raw json.RawMessage, dst *string) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		*dst = ""
		return false
	}
	return true
}

func isKnownType(t string) bool {
	switch t {
	case TypeChat, TypeCallInitiate, TypeCallAccept, TypeCallReject, TypeCallEnd:
		return true
	}
	return isSignalType(t)
}

func isSignalType(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}
