package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
)

type (
	// Directory is the authoritative connection-id -> participant map.
	Directory interface {
		Join(connID, roomID, name string) (model.JoinSnapshot, error)
		Leave(connID string) (roomID string, members []string, ok bool)
		Get(connID string) (model.Participant, bool)
		Occupants(roomID string) ([]string, error)
	}

	// Router is the delivery plane for signaling envelopes.
	Router interface {
		Connect(connID string, wire model.Wire)
		Disconnect(connID string)
		Unicast(ctx context.Context, env model.Envelope) bool
		Broadcast(ctx context.Context, env model.Envelope, members []string)
	}

	// Service wires sessions into the directory and routes envelopes
	// between them. It never interprets negotiation payloads and never
	// propagates one connection's failures to another.
	Service struct {
		store  Directory
		sw     Router
		logger zerolog.Logger
	}

	Config struct {
		Directory Directory
		Switch    Router
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.Directory,
		sw:     cfg.Switch,
		logger: cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// CreateSession registers the wire and starts routing its inbound
// envelopes until ctx is canceled. connID must be hub-assigned and unique
// for the connection's lifetime.
func (svc *Service) CreateSession(ctx context.Context, connID string, wire model.Wire) {
	svc.sw.Connect(connID, wire)
	go svc.route(ctx, connID, wire.RX)
	svc.logger.Debug().
		Str("connID", connID).
		Msg("signaling session created")
}

// DestroySession detaches the wire and removes the participant from its
// room, announcing the departure. Safe to call for an already-absent
// connID; disconnect may race with an explicit leave.
func (svc *Service) DestroySession(ctx context.Context, connID string) {
	svc.sw.Disconnect(connID)
	if roomID, members, ok := svc.store.Leave(connID); ok {
		svc.sw.Broadcast(ctx, model.Envelope{
			Type: model.TypePresenceLeft,
			From: connID,
		}, members)
		svc.logger.Debug().
			Str("connID", connID).
			Str("roomID", roomID).
			Msg("participant left room")
	}
	svc.logger.Debug().
		Str("connID", connID).
		Msg("signaling session deleted")
}

func (svc *Service) route(ctx context.Context, connID string, rx <-chan model.Envelope) {
routeLoop:
	for {
		select {
		case <-ctx.Done():
			break routeLoop
		case env := <-rx:
			env.From = connID // sender identity is stamped here, never trusted from the wire
			svc.dispatch(ctx, env)
		}
	}
}

func (svc *Service) dispatch(ctx context.Context, env model.Envelope) {
	switch {
	case env.Type == model.TypeJoinRoom:
		svc.joinRoom(ctx, env)
	case model.IsUnicast(env.Type):
		if !svc.sw.Unicast(ctx, env) {
			svc.logger.Debug().
				Str("type", env.Type).
				Str("src", env.From).
				Str("dst", env.To).
				Msg("relay target is gone, message dropped")
		}
	case env.Type == model.TypeChat:
		svc.chat(ctx, env)
	default:
		svc.logger.Debug().
			Str("type", env.Type).
			Str("src", env.From).
			Msg("discarding message with unexpected type")
	}
}

func (svc *Service) joinRoom(ctx context.Context, env model.Envelope) {
	var join model.JoinRoom
	if err := json.Unmarshal(env.Payload, &join); err != nil || join.RoomID == "" {
		svc.logger.Warn().
			Str("connID", env.From).
			Msg("malformed join-room, dropped")
		return
	}

	snap, err := svc.store.Join(env.From, join.RoomID, join.Name)
	if err != nil {
		svc.logger.Warn().Err(err).
			Str("connID", env.From).
			Str("roomID", join.RoomID).
			Msg("unable to join room")
		return
	}

	if snap.PrevRoom != "" {
		svc.sw.Broadcast(ctx, model.Envelope{
			Type: model.TypePresenceLeft,
			From: env.From,
		}, snap.PrevMembers)
	}

	payload, _ := json.Marshal(model.PresenceList{
		Self:      env.From,
		Occupants: snap.Others,
	})
	svc.sw.Unicast(ctx, model.Envelope{
		Type:    model.TypePresenceList,
		To:      env.From,
		Payload: payload,
	})

	svc.sw.Broadcast(ctx, model.Envelope{
		Type: model.TypePresenceJoined,
		From: env.From,
	}, snap.Others)

	svc.logger.Debug().
		Str("connID", env.From).
		Str("roomID", join.RoomID).
		Str("name", join.Name).
		Msg("participant joined room")
}

func (svc *Service) chat(ctx context.Context, env model.Envelope) {
	p, ok := svc.store.Get(env.From)
	if !ok {
		svc.logger.Debug().
			Str("connID", env.From).
			Msg("chat from participant outside any room, dropped")
		return
	}
	members, err := svc.store.Occupants(p.Room)
	if err != nil {
		return
	}
	svc.sw.Broadcast(ctx, env, members)
}
