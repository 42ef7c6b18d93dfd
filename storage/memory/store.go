package memory

import (
	"errors"
	"sync"

	"github.com/videocl/mesh/model"
)

var (
	ErrRoomIsFull   = errors.New("room is full")
	ErrRoomNotFound = errors.New("room is not found")
)

// MemStore is the connection directory: connection id -> participant
// record plus a room membership index derived from it. Rooms appear on
// first join and vanish with their last member.
type MemStore struct {
	mx              *sync.Mutex
	participants    map[string]model.Participant
	rooms           map[string]map[string]struct{}
	maxParticipants int
}

// NewMemStore creates a directory. maxParticipants caps room size,
// zero means unlimited.
func NewMemStore(maxParticipants int) *MemStore {
	return &MemStore{
		mx:              &sync.Mutex{},
		participants:    make(map[string]model.Participant),
		rooms:           make(map[string]map[string]struct{}),
		maxParticipants: maxParticipants,
	}
}

// Join registers connID in roomID. Joining again with a different room is
// a room change: the participant is removed from the old room first and
// the returned snapshot carries the old room's remaining members so the
// caller can announce the departure.
func (ms *MemStore) Join(connID, roomID, name string) (model.JoinSnapshot, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var snap model.JoinSnapshot

	if members, ok := ms.rooms[roomID]; ok && ms.maxParticipants > 0 {
		if _, present := members[connID]; !present && len(members) >= ms.maxParticipants {
			return snap, ErrRoomIsFull
		}
	}

	if prev, ok := ms.participants[connID]; ok && prev.Room != roomID {
		snap.PrevRoom = prev.Room
		ms.removeLocked(connID, prev.Room)
		snap.PrevMembers = ms.membersLocked(prev.Room)
	}

	members, ok := ms.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		ms.rooms[roomID] = members
	}

	for id := range members {
		if id != connID {
			snap.Others = append(snap.Others, id)
		}
	}
	members[connID] = struct{}{}
	ms.participants[connID] = model.Participant{
		ID:   connID,
		Name: name,
		Room: roomID,
	}
	return snap, nil
}

// Leave removes the participant and reports the room it left along with
// the remaining members. Leaving twice is a no-op.
func (ms *MemStore) Leave(connID string) (string, []string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	p, ok := ms.participants[connID]
	if !ok {
		return "", nil, false
	}
	delete(ms.participants, connID)
	ms.removeLocked(connID, p.Room)
	return p.Room, ms.membersLocked(p.Room), true
}

func (ms *MemStore) Get(connID string) (model.Participant, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	p, ok := ms.participants[connID]
	return p, ok
}

func (ms *MemStore) Occupants(roomID string) ([]string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	return ms.membersLocked(roomID), nil
}

func (ms *MemStore) GetRoom(roomID string) (*model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	members, ok := ms.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := &model.Room{
		ID:           roomID,
		Participants: make(map[string]model.Participant, len(members)),
	}
	for id := range members {
		room.Participants[id] = ms.participants[id]
	}
	return room, nil
}

func (ms *MemStore) removeLocked(connID, roomID string) {
	members, ok := ms.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(ms.rooms, roomID)
	}
}

func (ms *MemStore) membersLocked(roomID string) []string {
	members := ms.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}
