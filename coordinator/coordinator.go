package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
)

var (
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrJoinAnnounce     = errors.New("unable to announce room join")
)

type (
	// Signaler carries envelopes to the hub. Sends are fire-and-forget,
	// the matching state transition happens when the reply arrives.
	Signaler interface {
		Send(env model.Envelope) error
	}

	// Connection is the negotiation surface of one transport resource.
	// CreateOffer and CreateAnswer also set the local description;
	// CreateAnswer and AcceptAnswer set the remote one.
	Connection interface {
		CreateOffer(ctx context.Context) (model.Description, error)
		CreateAnswer(ctx context.Context, offer model.Description) (model.Description, error)
		AcceptAnswer(answer model.Description) error
		AddCandidate(cand model.Candidate) error
		Close() error
	}

	// Connector creates one transport resource per remote participant.
	// Locally gathered candidates are reported through onCandidate as
	// they are produced.
	Connector interface {
		NewConnection(remoteID string, onCandidate func(model.Candidate)) (Connection, error)
	}

	// Media is the single local capture resource shared read-only by
	// every peer link. Acquired once before joining, released exactly
	// once on teardown.
	Media interface {
		Acquire(ctx context.Context) error
		Release()
	}
)

type Config struct {
	Logger    *zerolog.Logger
	Signaler  Signaler
	Connector Connector
	Media     Media
	RoomID    string
	Name      string
	OnChat    func(from, text string)
}

// Coordinator maintains exactly one peer link per other occupant of its
// room. Links are independent: they share no state besides the media
// source, and one link failing never affects another.
type Coordinator struct {
	logger    zerolog.Logger
	sig       Signaler
	connector Connector
	media     Media
	roomID    string
	name      string
	onChat    func(from, text string)

	mx      sync.Mutex
	selfID  string
	peers   map[string]*PeerLink
	release sync.Once
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		logger: cfg.Logger.With().
			Str("component", "coordinator").
			Str("roomID", cfg.RoomID).Logger(),
		sig:       cfg.Signaler,
		connector: cfg.Connector,
		media:     cfg.Media,
		roomID:    cfg.RoomID,
		name:      cfg.Name,
		onChat:    cfg.OnChat,
		peers:     make(map[string]*PeerLink),
	}
}

// Join acquires the local media and announces the room join. Media
// failure is fatal to joining: no peer links are created and the error is
// returned to the caller.
func (c *Coordinator) Join(ctx context.Context) error {
	if err := c.media.Acquire(ctx); err != nil {
		return errors.Join(ErrMediaUnavailable, err)
	}

	payload, _ := json.Marshal(model.JoinRoom{
		RoomID: c.roomID,
		Name:   c.name,
	})
	err := c.sig.Send(model.Envelope{
		Type:    model.TypeJoinRoom,
		Payload: payload,
	})
	if err != nil {
		c.releaseMedia()
		return errors.Join(ErrJoinAnnounce, err)
	}
	c.logger.Debug().Str("name", c.name).Msg("join announced")
	return nil
}

// Run handles envelopes until the channel closes or ctx is canceled,
// then tears the coordinator down.
func (c *Coordinator) Run(ctx context.Context, incoming <-chan model.Envelope) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-incoming:
			if !ok {
				return
			}
			c.Handle(ctx, env)
		}
	}
}

// Handle dispatches one envelope from the hub.
func (c *Coordinator) Handle(ctx context.Context, env model.Envelope) {
	switch env.Type {
	case model.TypePresenceList:
		c.presenceList(ctx, env)

	case model.TypePresenceJoined:
		// the newcomer initiates toward us, we only prepare and wait
		c.ensurePeer(env.From, RoleResponder)

	case model.TypeOffer:
		var offer model.Description
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			c.logger.Error().Err(err).Msg("malformed offer")
			return
		}
		if link := c.ensurePeer(env.From, RoleResponder); link != nil {
			go link.Answer(ctx, offer)
		}

	case model.TypeAnswer:
		var answer model.Description
		if err := json.Unmarshal(env.Payload, &answer); err != nil {
			c.logger.Error().Err(err).Msg("malformed answer")
			return
		}
		if link := c.peer(env.From); link != nil {
			link.AcceptAnswer(answer)
		}

	case model.TypeICECandidate:
		var cand model.Candidate
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			c.logger.Error().Err(err).Msg("malformed candidate")
			return
		}
		if link := c.peer(env.From); link != nil {
			link.Candidate(cand)
		}

	case model.TypePresenceLeft:
		c.ClosePeer(env.From)

	case model.TypeChat:
		var chat model.Chat
		if err := json.Unmarshal(env.Payload, &chat); err != nil {
			c.logger.Error().Err(err).Msg("malformed chat")
			return
		}
		if c.onChat != nil {
			c.onChat(env.From, chat.Text)
		}

	default:
		c.logger.Debug().Str("type", env.Type).Msg("discarding message with unexpected type")
	}
}

// presenceList is the reply to our own join: we are the newcomer, so we
// initiate toward every listed occupant.
func (c *Coordinator) presenceList(ctx context.Context, env model.Envelope) {
	var pl model.PresenceList
	if err := json.Unmarshal(env.Payload, &pl); err != nil {
		c.logger.Error().Err(err).Msg("malformed presence-list")
		return
	}

	c.mx.Lock()
	c.selfID = pl.Self
	c.mx.Unlock()
	c.logger.Debug().
		Str("selfID", pl.Self).
		Int("occupants", len(pl.Occupants)).
		Msg("presence list received")

	for _, remoteID := range pl.Occupants {
		if link := c.ensurePeer(remoteID, RoleInitiator); link != nil {
			go link.Offer(ctx)
		}
	}
}

// SelfID is the hub-assigned connection id, empty until the presence-list
// reply arrives.
func (c *Coordinator) SelfID() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.selfID
}

// SendChat broadcasts a chat message to the room.
func (c *Coordinator) SendChat(text string) error {
	payload, _ := json.Marshal(model.Chat{
		Room: c.roomID,
		Text: text,
	})
	return c.sig.Send(model.Envelope{
		Type:    model.TypeChat,
		Payload: payload,
	})
}

// Links returns a snapshot of remote id -> link state.
func (c *Coordinator) Links() map[string]State {
	c.mx.Lock()
	defer c.mx.Unlock()

	out := make(map[string]State, len(c.peers))
	for id, link := range c.peers {
		out[id] = link.State()
	}
	return out
}

// ClosePeer closes and removes the link toward remoteID. Closing an
// absent or already-closed link is a no-op.
func (c *Coordinator) ClosePeer(remoteID string) {
	c.mx.Lock()
	link := c.peers[remoteID]
	delete(c.peers, remoteID)
	c.mx.Unlock()

	if link != nil {
		link.Close()
	}
}

// Close tears down every peer link and releases the media source.
// Idempotent.
func (c *Coordinator) Close() {
	c.mx.Lock()
	links := make([]*PeerLink, 0, len(c.peers))
	for _, link := range c.peers {
		links = append(links, link)
	}
	c.peers = make(map[string]*PeerLink)
	c.mx.Unlock()

	for _, link := range links {
		link.Close()
	}
	c.releaseMedia()
}

// ensurePeer returns the existing link toward remoteID or creates one in
// state new. Creation is idempotent: the first role sticks.
func (c *Coordinator) ensurePeer(remoteID string, role Role) *PeerLink {
	c.mx.Lock()
	if link, ok := c.peers[remoteID]; ok {
		c.mx.Unlock()
		return link
	}
	c.mx.Unlock()

	conn, err := c.connector.NewConnection(remoteID, func(cand model.Candidate) {
		c.sendCandidate(remoteID, cand)
	})
	if err != nil {
		// failure stays local to this pair, other links are unaffected
		c.logger.Error().Err(err).
			Str("remoteID", remoteID).
			Msg("failed to create connection resource")
		return nil
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if link, ok := c.peers[remoteID]; ok {
		_ = conn.Close()
		return link
	}
	link := newPeerLink(remoteID, role, conn, c.sig, &c.logger)
	c.peers[remoteID] = link
	return link
}

func (c *Coordinator) peer(remoteID string) *PeerLink {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.peers[remoteID]
}

func (c *Coordinator) sendCandidate(remoteID string, cand model.Candidate) {
	payload, err := json.Marshal(cand)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshall candidate")
		return
	}
	err = c.sig.Send(model.Envelope{
		Type:    model.TypeICECandidate,
		To:      remoteID,
		Payload: payload,
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("remoteID", remoteID).
			Msg("failed to send candidate")
	}
}

func (c *Coordinator) releaseMedia() {
	c.release.Do(c.media.Release)
}
