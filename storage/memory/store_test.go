package memory

import (
	"errors"
	"sort"
	"testing"

	"github.com/videocl/mesh/model"
)

func TestJoinFirstParticipantGetsEmptyList(t *testing.T) {
	ms := NewMemStore(0)

	snap, err := ms.Join("x", "r1", "Xenia")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if len(snap.Others) != 0 {
		t.Fatalf("expected empty occupant list, got %v", snap.Others)
	}
	if snap.PrevRoom != "" {
		t.Fatalf("unexpected previous room %q", snap.PrevRoom)
	}
}

func TestJoinReturnsOtherOccupants(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	mustJoin(t, ms, "y", "r1")
	snap := mustJoin(t, ms, "z", "r1")

	want := []string{"x", "y"}
	got := append([]string(nil), snap.Others...)
	sort.Strings(got)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected occupants %v, got %v", want, got)
	}
}

func TestJoinSameRoomTwiceIsIdempotent(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	snap := mustJoin(t, ms, "x", "r1")
	if len(snap.Others) != 0 {
		t.Fatalf("participant should not see itself: %v", snap.Others)
	}

	occ, err := ms.Occupants("r1")
	if err != nil {
		t.Fatalf("unexpected occupants error: %v", err)
	}
	if len(occ) != 1 {
		t.Fatalf("expected single occupant, got %v", occ)
	}
}

func TestJoinOtherRoomIsRoomChange(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	mustJoin(t, ms, "y", "r1")

	snap := mustJoin(t, ms, "x", "r2")
	if snap.PrevRoom != "r1" {
		t.Fatalf("expected previous room r1, got %q", snap.PrevRoom)
	}
	if len(snap.PrevMembers) != 1 || snap.PrevMembers[0] != "y" {
		t.Fatalf("expected remaining members [y], got %v", snap.PrevMembers)
	}

	if _, err := ms.Occupants("r1"); err != nil {
		t.Fatalf("r1 should still exist: %v", err)
	}
	p, ok := ms.Get("x")
	if !ok || p.Room != "r2" {
		t.Fatalf("expected x in r2, got %+v (ok=%v)", p, ok)
	}
}

func TestRoomVanishesWithLastMember(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	roomID, members, ok := ms.Leave("x")
	if !ok || roomID != "r1" {
		t.Fatalf("expected leave from r1, got %q (ok=%v)", roomID, ok)
	}
	if len(members) != 0 {
		t.Fatalf("expected no remaining members, got %v", members)
	}
	if _, err := ms.Occupants("r1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	if _, _, ok := ms.Leave("x"); !ok {
		t.Fatalf("first leave should succeed")
	}
	if _, _, ok := ms.Leave("x"); ok {
		t.Fatalf("second leave should be a no-op")
	}
	if _, _, ok := ms.Leave("never-joined"); ok {
		t.Fatalf("leave of unknown connID should be a no-op")
	}
}

func TestJoinFullRoom(t *testing.T) {
	ms := NewMemStore(2)

	mustJoin(t, ms, "x", "r1")
	mustJoin(t, ms, "y", "r1")

	if _, err := ms.Join("z", "r1", "Zoe"); !errors.Is(err, ErrRoomIsFull) {
		t.Fatalf("expected ErrRoomIsFull, got %v", err)
	}
	// rejoining members are not capped
	if _, err := ms.Join("y", "r1", "Yuri"); err != nil {
		t.Fatalf("member rejoin should pass the cap: %v", err)
	}
	if _, ok := ms.Get("z"); ok {
		t.Fatalf("rejected participant must not be registered")
	}
}

func TestGetRoomSnapshot(t *testing.T) {
	ms := NewMemStore(0)

	mustJoin(t, ms, "x", "r1")
	mustJoin(t, ms, "y", "r1")

	room, err := ms.GetRoom("r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if room.ID != "r1" || len(room.Participants) != 2 {
		t.Fatalf("unexpected room snapshot: %+v", room)
	}
	if _, err = ms.GetRoom("nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func mustJoin(t *testing.T, ms *MemStore, connID, roomID string) model.JoinSnapshot {
	t.Helper()
	snap, err := ms.Join(connID, roomID, "name-"+connID)
	if err != nil {
		t.Fatalf("join %s -> %s failed: %v", connID, roomID, err)
	}
	return snap
}
