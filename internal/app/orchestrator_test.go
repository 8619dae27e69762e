package app

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetcall/duet/internal/core"
	"github.com/duetcall/duet/internal/domain"
	"github.com/duetcall/duet/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, e := range f.frames {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeConn) last(t *testing.T) protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	return f.frames[len(f.frames)-1]
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func newTestOrchestrator() (*Orchestrator, *core.Store) {
	store := core.NewStore(2)
	return NewOrchestrator(store, NewRegistry()), store
}

func connect(o *Orchestrator, sid domain.SocketID) *fakeConn {
	c := &fakeConn{}
	o.Connect(sid, c)
	return c
}

func TestJoinScenario(t *testing.T) {
	o, store := newTestOrchestrator()
	room := store.CreateRoom()

	a := connect(o, "A")
	b := connect(o, "B")
	c := connect(o, "C")

	// First joiner sees an empty room and waits for user-joined.
	o.Join("A", room.ID)
	env := a.last(t)
	assert.Equal(t, protocol.EventRoomUsers, env.Event)
	assert.Empty(t, decode[protocol.RoomUsers](t, env).ExistingParticipantSocketIDs)

	// Second joiner discovers A via room-users and becomes the offer
	// initiator; A learns about B via user-joined and must wait.
	o.Join("B", room.ID)
	env = b.last(t)
	assert.Equal(t, protocol.EventRoomUsers, env.Event)
	assert.Equal(t, []domain.SocketID{"A"}, decode[protocol.RoomUsers](t, env).ExistingParticipantSocketIDs)

	env = a.last(t)
	assert.Equal(t, protocol.EventUserJoined, env.Event)
	assert.Equal(t, domain.SocketID("B"), decode[protocol.UserJoined](t, env).SocketID)

	// Third joiner bounces; the room is untouched.
	o.Join("C", room.ID)
	env = c.last(t)
	assert.Equal(t, protocol.EventJoinError, env.Event)
	assert.Equal(t, "Room is full", decode[protocol.JoinError](t, env).Message)

	dto, err := store.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dto.Participants)
	assert.Equal(t, []string{"room-users", "user-joined"}, a.events())
}

func TestJoinUnknownRoom(t *testing.T) {
	o, _ := newTestOrchestrator()
	a := connect(o, "A")

	o.Join("A", "ghost")
	env := a.last(t)
	assert.Equal(t, protocol.EventJoinError, env.Event)
	assert.Equal(t, "Room not found", decode[protocol.JoinError](t, env).Message)
}

func TestDisconnectEmitsUserLeftAndFreesSlot(t *testing.T) {
	o, store := newTestOrchestrator()
	room := store.CreateRoom()
	connect(o, "A")
	b := connect(o, "B")
	o.Join("A", room.ID)
	o.Join("B", room.ID)

	o.Disconnect("A")

	env := b.last(t)
	assert.Equal(t, protocol.EventUserLeft, env.Event)
	assert.Equal(t, domain.SocketID("A"), decode[protocol.UserLeft](t, env).SocketID)

	dto, err := store.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dto.Participants)

	// The freed slot is joinable again.
	c := connect(o, "C")
	o.Join("C", room.ID)
	assert.Equal(t, protocol.EventRoomUsers, c.last(t).Event)
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	o, store := newTestOrchestrator()
	room := store.CreateRoom()
	connect(o, "A")
	o.Join("A", room.ID)

	o.Leave("A", room.ID)

	_, err := store.GetRoom(room.ID)
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestLeaveThenDisconnectEmitsUserLeftOnce(t *testing.T) {
	o, store := newTestOrchestrator()
	room := store.CreateRoom()
	connect(o, "A")
	b := connect(o, "B")
	o.Join("A", room.ID)
	o.Join("B", room.ID)

	o.Leave("A", room.ID)
	o.Leave("A", room.ID)
	o.Disconnect("A")

	left := 0
	for _, ev := range b.events() {
		if ev == protocol.EventUserLeft {
			left++
		}
	}
	assert.Equal(t, 1, left)
}

func TestRelayForwardsBodyVerbatim(t *testing.T) {
	o, _ := newTestOrchestrator()
	a := connect(o, "A")
	b := connect(o, "B")

	body := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}`)
	o.Relay(protocol.EventOffer, "A", protocol.Relay{TargetSocketID: "B", Offer: body})

	env := b.last(t)
	require.Equal(t, protocol.EventOffer, env.Event)
	fwd := decode[protocol.RelayForward](t, env)
	assert.Equal(t, domain.SocketID("A"), fwd.FromSocketID)
	// The relay never parses the body; raw bytes survive the trip.
	assert.Equal(t, string(body), string(fwd.Offer))

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122194687 192.0.2.1 54400 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	o.Relay(protocol.EventICECandidate, "B", protocol.Relay{TargetSocketID: "A", Candidate: cand})

	env = a.last(t)
	require.Equal(t, protocol.EventICECandidate, env.Event)
	fwd = decode[protocol.RelayForward](t, env)
	assert.Equal(t, domain.SocketID("B"), fwd.FromSocketID)
	assert.Equal(t, string(cand), string(fwd.Candidate))
}

func TestRelayToUnknownTargetDropsSilently(t *testing.T) {
	o, _ := newTestOrchestrator()
	a := connect(o, "A")

	o.Relay(protocol.EventOffer, "A", protocol.Relay{TargetSocketID: "gone", Offer: json.RawMessage(`{}`)})

	// Fire and forget: the sender hears nothing back.
	assert.Empty(t, a.events())
}

func TestChatBroadcastToOtherMembers(t *testing.T) {
	o, store := newTestOrchestrator()
	o.now = func() time.Time { return time.UnixMilli(1700000000000) }
	room := store.CreateRoom()
	a := connect(o, "A")
	b := connect(o, "B")
	o.Join("A", room.ID)
	o.Join("B", room.ID)

	o.Chat("A", protocol.ChatMessage{RoomID: room.ID, Text: "hello"})

	env := b.last(t)
	require.Equal(t, protocol.EventChatMessage, env.Event)
	msg := decode[protocol.ChatBroadcast](t, env)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, domain.SocketID("A"), msg.FromSocketID)
	assert.Equal(t, room.ID, msg.RoomID)
	assert.Equal(t, int64(1700000000000), msg.TS)

	// The sender does not receive its own message.
	for _, ev := range a.events() {
		assert.NotEqual(t, protocol.EventChatMessage, ev)
	}
}

func TestChatFromNonMemberDropped(t *testing.T) {
	o, store := newTestOrchestrator()
	room := store.CreateRoom()
	connect(o, "A")
	b := connect(o, "B")
	stranger := connect(o, "S")
	o.Join("A", room.ID)
	o.Join("B", room.ID)

	// Never joined the claimed room: dropped, nobody hears it.
	o.Chat("S", protocol.ChatMessage{RoomID: room.ID, Text: "spoofed"})

	for _, ev := range b.events() {
		assert.NotEqual(t, protocol.EventChatMessage, ev)
	}
	assert.Empty(t, stranger.events())
}

func TestChatClaimedRoomMismatchDropped(t *testing.T) {
	o, store := newTestOrchestrator()
	roomA := store.CreateRoom()
	roomB := store.CreateRoom()
	connect(o, "A")
	x := connect(o, "X")
	o.Join("A", roomA.ID)
	o.Join("X", roomB.ID)

	// X is a member, just not of the room it claims.
	o.Chat("X", protocol.ChatMessage{RoomID: roomA.ID, Text: "wrong room"})

	for _, ev := range x.events() {
		assert.NotEqual(t, protocol.EventChatMessage, ev)
	}
}
