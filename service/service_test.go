package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
	store "github.com/videocl/mesh/storage/memory"
	sw "github.com/videocl/mesh/switch"
)

type session struct {
	id   string
	wire model.Wire
	got  chan model.Envelope
}

func newTestService(t *testing.T) (*Service, context.Context) {
	t.Helper()
	logger := zerolog.Nop()
	svc := NewService(Config{
		Directory: store.NewMemStore(0),
		Switch:    sw.NewSwitch(&logger),
		Logger:    &logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return svc, ctx
}

func connect(ctx context.Context, svc *Service, id string) *session {
	s := &session{
		id:   id,
		wire: model.NewWire(),
		got:  make(chan model.Envelope, 16),
	}
	svc.CreateSession(ctx, id, s.wire)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-s.wire.TX:
				s.got <- env
			}
		}
	}()
	return s
}

func (s *session) join(t *testing.T, roomID string) {
	t.Helper()
	payload, _ := json.Marshal(model.JoinRoom{RoomID: roomID, Name: "name-" + s.id})
	s.send(t, model.Envelope{Type: model.TypeJoinRoom, Payload: payload})
}

func (s *session) send(t *testing.T, env model.Envelope) {
	t.Helper()
	select {
	case s.wire.RX <- env:
	case <-time.After(time.Second):
		t.Fatalf("session %s: inbound send stuck", s.id)
	}
}

func (s *session) expect(t *testing.T, typ string) model.Envelope {
	t.Helper()
	select {
	case env := <-s.got:
		if env.Type != typ {
			t.Fatalf("session %s: expected %s, got %s", s.id, typ, spew.Sdump(env))
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("session %s: no %s arrived", s.id, typ)
	}
	return model.Envelope{}
}

func (s *session) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case env := <-s.got:
		t.Fatalf("session %s: unexpected envelope %s", s.id, spew.Sdump(env))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinRepliesWithPresenceList(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	x.join(t, "r1")

	env := x.expect(t, model.TypePresenceList)
	var pl model.PresenceList
	if err := json.Unmarshal(env.Payload, &pl); err != nil {
		t.Fatalf("malformed presence-list payload: %v", err)
	}
	if pl.Self != "x" {
		t.Fatalf("expected self id x, got %q", pl.Self)
	}
	if len(pl.Occupants) != 0 {
		t.Fatalf("first joiner must see empty room, got %v", pl.Occupants)
	}
}

func TestSecondJoinerSeesFirstAndIsAnnounced(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	x.join(t, "r1")
	x.expect(t, model.TypePresenceList)

	y := connect(ctx, svc, "y")
	y.join(t, "r1")

	env := y.expect(t, model.TypePresenceList)
	var pl model.PresenceList
	_ = json.Unmarshal(env.Payload, &pl)
	if len(pl.Occupants) != 1 || pl.Occupants[0] != "x" {
		t.Fatalf("expected occupants [x], got %v", pl.Occupants)
	}

	joined := x.expect(t, model.TypePresenceJoined)
	if joined.From != "y" {
		t.Fatalf("expected presence-joined from y, got %q", joined.From)
	}
}

func TestRelayStampsSender(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	y := connect(ctx, svc, "y")
	x.join(t, "r1")
	x.expect(t, model.TypePresenceList)
	y.join(t, "r1")
	y.expect(t, model.TypePresenceList)
	x.expect(t, model.TypePresenceJoined)

	payload, _ := json.Marshal(model.Description{Type: "offer", SDP: "v=0"})
	y.send(t, model.Envelope{
		Type:    model.TypeOffer,
		From:    "forged-identity",
		To:      "x",
		Payload: payload,
	})

	offer := x.expect(t, model.TypeOffer)
	if offer.From != "y" {
		t.Fatalf("hub must stamp sender identity, got from=%q", offer.From)
	}
}

func TestRelayToGoneTargetIsDropped(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	x.join(t, "r1")
	x.expect(t, model.TypePresenceList)

	x.send(t, model.Envelope{Type: model.TypeICECandidate, To: "ghost"})
	x.expectNothing(t)
}

func TestChatBroadcastExcludesSender(t *testing.T) {
	svc, ctx := newTestService(t)

	sessions := make([]*session, 0, 3)
	for _, id := range []string{"x", "y", "z"} {
		s := connect(ctx, svc, id)
		s.join(t, "r1")
		s.expect(t, model.TypePresenceList)
		sessions = append(sessions, s)
	}
	// drain join announcements
	sessions[0].expect(t, model.TypePresenceJoined)
	sessions[0].expect(t, model.TypePresenceJoined)
	sessions[1].expect(t, model.TypePresenceJoined)

	payload, _ := json.Marshal(model.Chat{Room: "r1", Text: "hello"})
	sessions[0].send(t, model.Envelope{Type: model.TypeChat, Payload: payload})

	for _, s := range sessions[1:] {
		env := s.expect(t, model.TypeChat)
		if env.From != "x" {
			t.Fatalf("expected chat from x, got %q", env.From)
		}
	}
	sessions[0].expectNothing(t)
}

func TestDisconnectBroadcastsPresenceLeft(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	y := connect(ctx, svc, "y")
	x.join(t, "r1")
	x.expect(t, model.TypePresenceList)
	y.join(t, "r1")
	y.expect(t, model.TypePresenceList)
	x.expect(t, model.TypePresenceJoined)

	svc.DestroySession(ctx, "x")

	left := y.expect(t, model.TypePresenceLeft)
	if left.From != "x" {
		t.Fatalf("expected presence-left from x, got %q", left.From)
	}

	// destroying twice produces nothing further
	svc.DestroySession(ctx, "x")
	y.expectNothing(t)
}

func TestRejoinOtherRoomAnnouncesDeparture(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	z := connect(ctx, svc, "z")
	x.join(t, "r1")
	x.expect(t, model.TypePresenceList)
	z.join(t, "r1")
	z.expect(t, model.TypePresenceList)
	x.expect(t, model.TypePresenceJoined)

	x.join(t, "r2")

	left := z.expect(t, model.TypePresenceLeft)
	if left.From != "x" {
		t.Fatalf("expected presence-left from x, got %q", left.From)
	}
	x.expect(t, model.TypePresenceList)
}

func TestChatOutsideRoomIsDropped(t *testing.T) {
	svc, ctx := newTestService(t)

	x := connect(ctx, svc, "x")
	payload, _ := json.Marshal(model.Chat{Text: "anyone?"})
	x.send(t, model.Envelope{Type: model.TypeChat, Payload: payload})
	x.expectNothing(t)
}
