package app

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/duetcall/duet/internal/core"
	"github.com/duetcall/duet/internal/domain"
	"github.com/duetcall/duet/internal/protocol"
)

// Orchestrator ties transport events to the room store and decides
// which outbound events to emit. Store mutations happen first; all
// emissions follow after the store call returns, outside its lock.
type Orchestrator struct {
	Store    *core.Store
	Registry *Registry

	now func() time.Time
}

func NewOrchestrator(store *core.Store, reg *Registry) *Orchestrator {
	return &Orchestrator{Store: store, Registry: reg, now: time.Now}
}

// Connect binds a freshly upgraded connection. The socket starts
// unjoined; only join-room moves it into a room.
func (o *Orchestrator) Connect(sid domain.SocketID, conn core.SignalConnection) {
	o.Registry.Bind(sid, conn)
}

// Join moves the socket into the room. The requester learns the
// pre-existing members via room-users; the other member (if any) learns
// about the requester via user-joined. That asymmetry fixes which side
// originates the offer, so SDP glare cannot occur: the peer that reads
// a non-empty room-users list initiates, the peer that reads
// user-joined waits and answers.
func (o *Orchestrator) Join(sid domain.SocketID, roomID domain.RoomID) {
	others, prev, err := o.Store.Join(roomID, sid)
	if err != nil {
		msg := "Join failed"
		if errors.Is(err, core.ErrRoomNotFound) || errors.Is(err, core.ErrRoomFull) {
			msg = err.Error()
		}
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).
			Str("room", string(roomID)).Str("reason", msg).Msg("join rejected")
		o.emit(sid, protocol.EventJoinError, protocol.JoinError{Message: msg})
		return
	}
	if prev != nil {
		for _, m := range prev.Remaining {
			o.emit(m, protocol.EventUserLeft, protocol.UserLeft{SocketID: sid})
		}
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined")
	o.emit(sid, protocol.EventRoomUsers, protocol.RoomUsers{ExistingParticipantSocketIDs: others})
	for _, m := range others {
		o.emit(m, protocol.EventUserJoined, protocol.UserJoined{SocketID: sid})
	}
}

// Leave handles an explicit leave-room. Idempotent: a socket that is
// not a member produces no error and no user-left.
func (o *Orchestrator) Leave(sid domain.SocketID, roomID domain.RoomID) {
	remaining, removed := o.Store.Leave(roomID, sid)
	if !removed {
		return
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left")
	for _, m := range remaining {
		o.emit(m, protocol.EventUserLeft, protocol.UserLeft{SocketID: sid})
	}
}

// Disconnect is the transport-initiated counterpart of Leave. It runs
// the same cleanup path, so an abrupt network loss can never leave a
// zombie slot holding a room seat.
func (o *Orchestrator) Disconnect(sid domain.SocketID) {
	roomID, remaining, removed := o.Store.Drop(sid)
	if removed {
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("dropped on disconnect")
		for _, m := range remaining {
			o.emit(m, protocol.EventUserLeft, protocol.UserLeft{SocketID: sid})
		}
	}
	o.Registry.Unbind(sid)
}

// Relay forwards an offer/answer/ice-candidate to its named target with
// the sender's identity attached and the body untouched. Fire and
// forget: a vanished target drops silently, the sender is not told.
func (o *Orchestrator) Relay(event string, from domain.SocketID, p protocol.Relay) {
	o.emit(p.TargetSocketID, event, protocol.Forward(event, from, p.Body(event)))
}

// Chat broadcasts a chat-message to the other members of the room. The
// sender must currently be tracked as a member of the claimed room;
// otherwise the message is dropped silently. A stale client is the only
// way to get here, so no error goes back.
func (o *Orchestrator) Chat(from domain.SocketID, p protocol.ChatMessage) {
	roomID, ok := o.Store.RoomOf(from)
	if !ok || roomID != p.RoomID {
		log.Debug().Str("module", "app.orch").Str("sid", string(from)).
			Str("claimed", string(p.RoomID)).Msg("chat from non-member dropped")
		return
	}
	out := protocol.ChatBroadcast{
		RoomID:       p.RoomID,
		Text:         p.Text,
		FromSocketID: from,
		TS:           o.now().UnixMilli(),
	}
	for _, m := range o.Store.Members(p.RoomID, from) {
		o.emit(m, protocol.EventChatMessage, out)
	}
}

func (o *Orchestrator) emit(sid domain.SocketID, event string, payload any) {
	conn, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	frame, err := protocol.MarshalEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("event", event).Msg("emit marshal")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Str("event", event).Msg("emit dropped")
	}
}
