// Package protocol models the signaling wire surface: the envelope and
// the payloads of every named event. Negotiation bodies (offer, answer,
// candidate) are opaque to the relay and stay json.RawMessage end to end.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/duetcall/duet/internal/domain"
)

// Event names, inbound and outbound. Fixed by the client protocol.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventChatMessage  = "chat-message"

	EventRoomUsers  = "room-users"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventJoinError  = "join-error"
)

// Envelope is one signaling frame: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope missing event")
	}
	return env, nil
}

// MarshalEnvelope builds an outbound frame. A payload that fails to
// marshal is a programming error on our side, so the error is returned
// for the caller to log rather than silently dropped here.
func MarshalEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type JoinRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID string        `json:"userId,omitempty"` // client identity, unused by the core
}

func (p JoinRoom) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("join-room missing roomId")
	}
	return nil
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId"`
}

func (p LeaveRoom) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("leave-room missing roomId")
	}
	return nil
}

// Relay is the inbound shape shared by offer, answer and ice-candidate:
// a named target plus exactly one opaque negotiation body.
type Relay struct {
	TargetSocketID domain.SocketID `json:"targetSocketId"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

func (p Relay) Validate(event string) error {
	if p.TargetSocketID == "" {
		return fmt.Errorf("%s missing targetSocketId", event)
	}
	if len(p.Body(event)) == 0 {
		return fmt.Errorf("%s missing body", event)
	}
	return nil
}

// Body picks the negotiation payload matching the event name.
func (p Relay) Body(event string) json.RawMessage {
	switch event {
	case EventOffer:
		return p.Offer
	case EventAnswer:
		return p.Answer
	case EventICECandidate:
		return p.Candidate
	}
	return nil
}

// RelayForward is the outbound counterpart: the target field is
// replaced by the sender's identity, the body is forwarded verbatim.
type RelayForward struct {
	FromSocketID domain.SocketID `json:"fromSocketId"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

func Forward(event string, from domain.SocketID, body json.RawMessage) RelayForward {
	out := RelayForward{FromSocketID: from}
	switch event {
	case EventOffer:
		out.Offer = body
	case EventAnswer:
		out.Answer = body
	case EventICECandidate:
		out.Candidate = body
	}
	return out
}

type ChatMessage struct {
	RoomID domain.RoomID `json:"roomId"`
	Text   string        `json:"text"`
}

func (p ChatMessage) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("chat-message missing roomId")
	}
	if p.Text == "" {
		return fmt.Errorf("chat-message missing text")
	}
	return nil
}

type ChatBroadcast struct {
	RoomID       domain.RoomID   `json:"roomId"`
	Text         string          `json:"text"`
	FromSocketID domain.SocketID `json:"fromSocketId"`
	TS           int64           `json:"ts"` // unix milliseconds
}

type RoomUsers struct {
	ExistingParticipantSocketIDs []domain.SocketID `json:"existingParticipantSocketIds"`
}

type UserJoined struct {
	SocketID domain.SocketID `json:"socketId"`
}

type UserLeft struct {
	SocketID domain.SocketID `json:"socketId"`
}

type JoinError struct {
	Message string `json:"message"`
}
