package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/duetcall/duet/internal/domain"
)

// DefaultMaxMembers is the room capacity used when the config leaves it unset.
const DefaultMaxMembers = 2

// roomState is the mutable half of a Room. Only the store touches it.
type roomState struct {
	createdAt time.Time
	members   map[domain.SocketID]struct{}
}

// Store is a threadsafe in-memory room table plus the reverse
// socket->room membership index. Both maps live behind one mutex so
// they can never drift apart: every mutation path (join, leave, drop)
// updates them in the same critical section.
type Store struct {
	mu         sync.RWMutex
	rooms      map[domain.RoomID]*roomState
	bySocket   map[domain.SocketID]domain.RoomID
	maxMembers int
}

func NewStore(maxMembers int) *Store {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Store{
		rooms:      make(map[domain.RoomID]*roomState),
		bySocket:   make(map[domain.SocketID]domain.RoomID),
		maxMembers: maxMembers,
	}
}

// CreateRoom registers a fresh empty room. Never fails.
func (s *Store) CreateRoom() domain.Room {
	room := domain.Room{
		ID:        domain.RoomID(uuid.NewString()),
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.rooms[room.ID] = &roomState{
		createdAt: room.CreatedAt,
		members:   make(map[domain.SocketID]struct{}),
	}
	s.mu.Unlock()
	log.Info().Str("module", "core.store").Str("room", string(room.ID)).Msg("room created")
	return room
}

func (s *Store) ListRooms() []domain.RoomDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomDTO, 0, len(s.rooms))
	for id, st := range s.rooms {
		out = append(out, domain.RoomDTO{
			ID:           id,
			CreatedAt:    st.createdAt,
			Participants: len(st.members),
		})
	}
	return out
}

func (s *Store) GetRoom(id domain.RoomID) (domain.RoomDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	if !ok {
		return domain.RoomDTO{}, ErrRoomNotFound
	}
	return domain.RoomDTO{ID: id, CreatedAt: st.createdAt, Participants: len(st.members)}, nil
}

// Departure records a membership removal that happened as a side
// effect, so the caller can emit user-left after the lock is released.
type Departure struct {
	Room      domain.RoomID
	Remaining []domain.SocketID
}

// Join adds the socket to the room and returns the members that were
// already there. The capacity check and the insert happen under one
// lock, so two near-simultaneous joins can never both pass the check.
// A socket has at most one active room: a successful join removes it
// from any previous room in the same critical section, reported via
// prev. A failed join leaves all state untouched.
func (s *Store) Join(roomID domain.RoomID, sid domain.SocketID) (others []domain.SocketID, prev *Departure, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if _, joined := st.members[sid]; !joined && len(st.members) >= s.maxMembers {
		return nil, nil, ErrRoomFull
	}
	if old, ok := s.bySocket[sid]; ok && old != roomID {
		if remaining, removed := s.leaveLocked(old, sid); removed {
			prev = &Departure{Room: old, Remaining: remaining}
		}
	}
	others = make([]domain.SocketID, 0, len(st.members))
	for m := range st.members {
		if m != sid {
			others = append(others, m)
		}
	}
	st.members[sid] = struct{}{}
	s.bySocket[sid] = roomID
	return others, prev, nil
}

// Leave removes the socket from the room. Idempotent: an unknown room
// or a socket that is not a member is a no-op with removed=false, so
// callers can suppress duplicate user-left emissions. A room whose
// member set empties is deleted in the same critical section; no
// concurrent Join or List ever observes an empty room.
func (s *Store) Leave(roomID domain.RoomID, sid domain.SocketID) (remaining []domain.SocketID, removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(roomID, sid)
}

// Drop is the disconnect path: reverse-lookup plus leave in one
// critical section.
func (s *Store) Drop(sid domain.SocketID) (roomID domain.RoomID, remaining []domain.SocketID, removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.bySocket[sid]
	if !ok {
		return "", nil, false
	}
	remaining, removed = s.leaveLocked(roomID, sid)
	return roomID, remaining, removed
}

// RoomOf reports which room the socket is currently a member of.
func (s *Store) RoomOf(sid domain.SocketID) (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.bySocket[sid]
	return roomID, ok
}

// Members returns the current member set of the room, excluding sid.
func (s *Store) Members(roomID domain.RoomID, except domain.SocketID) []domain.SocketID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.SocketID, 0, len(st.members))
	for m := range st.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) leaveLocked(roomID domain.RoomID, sid domain.SocketID) (remaining []domain.SocketID, removed bool) {
	st, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, member := st.members[sid]; !member {
		return nil, false
	}
	delete(st.members, sid)
	// Only clear the reverse entry when it points at this room, so a
	// stale leave for an old room cannot orphan a newer membership.
	if cur, ok := s.bySocket[sid]; ok && cur == roomID {
		delete(s.bySocket, sid)
	}
	if len(st.members) == 0 {
		delete(s.rooms, roomID)
		log.Info().Str("module", "core.store").Str("room", string(roomID)).Msg("room emptied, deleted")
		return nil, true
	}
	remaining = make([]domain.SocketID, 0, len(st.members))
	for m := range st.members {
		remaining = append(remaining, m)
	}
	return remaining, true
}
