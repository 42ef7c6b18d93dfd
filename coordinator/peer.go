package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
)

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

type State string

const (
	StateNew       State = "new"
	StateOffering  State = "offering"
	StateAnswering State = "answering"
	StateConnected State = "connected"
	StateClosed    State = "closed"
)

// PeerLink drives negotiation with one remote participant. Candidates
// arriving before the remote description is set are kept in a backlog and
// applied in arrival order once it is; late results of an in-flight
// offer/answer generation are discarded after Close.
type PeerLink struct {
	remoteID string
	role     Role
	sig      Signaler
	logger   zerolog.Logger

	mx        sync.Mutex
	state     State
	conn      Connection
	backlog   []model.Candidate
	remoteSet bool
}

func newPeerLink(remoteID string, role Role, conn Connection, sig Signaler, logger *zerolog.Logger) *PeerLink {
	return &PeerLink{
		remoteID: remoteID,
		role:     role,
		sig:      sig,
		logger: logger.With().
			Str("component", "peer-link").
			Str("remoteID", remoteID).
			Str("role", string(role)).Logger(),
		state: StateNew,
		conn:  conn,
	}
}

func (pl *PeerLink) State() State {
	pl.mx.Lock()
	defer pl.mx.Unlock()
	return pl.state
}

// Offer generates a local description and sends it to the remote.
// Only valid from new; repeated calls are dropped.
func (pl *PeerLink) Offer(ctx context.Context) {
	pl.mx.Lock()
	if state := pl.state; state != StateNew {
		pl.mx.Unlock()
		pl.logger.Debug().Str("state", string(state)).Msg("offer attempt dropped")
		return
	}
	pl.state = StateOffering
	conn := pl.conn
	pl.mx.Unlock()

	desc, err := conn.CreateOffer(ctx)
	if err != nil {
		pl.logger.Error().Err(err).Msg("failed to create offer")
		return
	}

	pl.mx.Lock()
	closed := pl.state == StateClosed
	pl.mx.Unlock()
	if closed {
		return
	}
	pl.send(model.TypeOffer, desc)
}

// Answer handles an incoming offer: sets the remote description,
// generates the answer and sends it back. An offer arriving in any state
// past new is stale and dropped.
func (pl *PeerLink) Answer(ctx context.Context, offer model.Description) {
	pl.mx.Lock()
	if state := pl.state; state != StateNew {
		pl.mx.Unlock()
		pl.logger.Debug().Str("state", string(state)).Msg("stale offer dropped")
		return
	}
	pl.state = StateAnswering
	conn := pl.conn
	pl.mx.Unlock()

	answer, err := conn.CreateAnswer(ctx, offer)
	if err != nil {
		pl.logger.Error().Err(err).Msg("failed to create answer")
		return
	}

	if !pl.remoteDescriptionSet() {
		return
	}
	pl.send(model.TypeAnswer, answer)
}

// AcceptAnswer completes the initiator side. Answers arriving outside
// offering are stale and dropped.
func (pl *PeerLink) AcceptAnswer(answer model.Description) {
	pl.mx.Lock()
	if state := pl.state; state != StateOffering {
		pl.mx.Unlock()
		pl.logger.Debug().Str("state", string(state)).Msg("stale answer dropped")
		return
	}
	conn := pl.conn
	pl.mx.Unlock()

	if err := conn.AcceptAnswer(answer); err != nil {
		pl.logger.Error().Err(err).Msg("failed to accept answer")
		return
	}
	pl.remoteDescriptionSet()
}

// remoteDescriptionSet marks the remote description as available, drains
// the candidate backlog in arrival order and moves the link to connected.
// Returns false when the link was closed while the description was being
// applied, in which case the result is discarded.
func (pl *PeerLink) remoteDescriptionSet() bool {
	pl.mx.Lock()
	defer pl.mx.Unlock()

	if pl.state == StateClosed {
		return false
	}
	pl.remoteSet = true
	for _, cand := range pl.backlog {
		if err := pl.conn.AddCandidate(cand); err != nil {
			pl.logger.Debug().Err(err).Msg("buffered candidate rejected")
		}
	}
	pl.backlog = nil
	pl.state = StateConnected
	pl.logger.Debug().Msg("peer link connected")
	return true
}

// Candidate applies a remote candidate, or buffers it while the remote
// description is not yet set. Candidates for a closed link are dropped.
func (pl *PeerLink) Candidate(cand model.Candidate) {
	pl.mx.Lock()
	defer pl.mx.Unlock()

	switch {
	case pl.state == StateClosed:
	case !pl.remoteSet:
		pl.backlog = append(pl.backlog, cand)
	default:
		if err := pl.conn.AddCandidate(cand); err != nil {
			pl.logger.Debug().Err(err).Msg("candidate rejected")
		}
	}
}

// Close releases the connection resource and drops the backlog.
// Idempotent and safe from any state.
func (pl *PeerLink) Close() {
	pl.mx.Lock()
	if pl.state == StateClosed {
		pl.mx.Unlock()
		return
	}
	pl.state = StateClosed
	pl.backlog = nil
	conn := pl.conn
	pl.mx.Unlock()

	if err := conn.Close(); err != nil {
		pl.logger.Debug().Err(err).Msg("connection close failed")
	}
	pl.logger.Debug().Msg("peer link closed")
}

func (pl *PeerLink) send(typ string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		pl.logger.Error().Err(err).Str("type", typ).Msg("failed to marshall signaling payload")
		return
	}
	err = pl.sig.Send(model.Envelope{
		Type:    typ,
		To:      pl.remoteID,
		Payload: b,
	})
	if err != nil {
		pl.logger.Error().Err(err).Str("type", typ).Msg("failed to send signaling message")
	}
}
