package pion

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/videocl/mesh/coordinator"
	"github.com/videocl/mesh/model"
)

type Config struct {
	Logger       *zerolog.Logger
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string

	// OnTrack surfaces remote media as it arrives, keyed by the remote
	// participant the track came from.
	OnTrack func(remoteID string, track *webrtc.TrackRemote)
}

// Connector creates pion peer connections behind the coordinator's
// Connection interface. Every connection shares the media source's local
// tracks.
type Connector struct {
	logger  zerolog.Logger
	api     *webrtc.API
	webCfg  webrtc.Configuration
	media   *Media
	onTrack func(remoteID string, track *webrtc.TrackRemote)
}

func NewConnector(cfg Config, media *Media) (*Connector, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	if len(cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}

	return &Connector{
		logger:  cfg.Logger.With().Str("component", "webrtc").Logger(),
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		webCfg:  webrtc.Configuration{ICEServers: iceServers},
		media:   media,
		onTrack: cfg.OnTrack,
	}, nil
}

func (cn *Connector) NewConnection(remoteID string, onCandidate func(model.Candidate)) (coordinator.Connection, error) {
	pc, err := cn.api.NewPeerConnection(cn.webCfg)
	if err != nil {
		return nil, err
	}

	for _, track := range cn.media.Tracks() {
		if _, err = pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	logger := cn.logger.With().Str("remoteID", remoteID).Logger()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		onCandidate(model.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug().Str("state", state.String()).Msg("connection state changed")
	})

	if cn.onTrack != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			cn.onTrack(remoteID, track)
		})
	}

	return &Conn{pc: pc}, nil
}

// Conn adapts a pion peer connection to the coordinator's Connection.
type Conn struct {
	pc *webrtc.PeerConnection
}

func (c *Conn) CreateOffer(ctx context.Context) (model.Description, error) {
	if err := ctx.Err(); err != nil {
		return model.Description{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return model.Description{}, err
	}
	if err = c.pc.SetLocalDescription(offer); err != nil {
		return model.Description{}, err
	}
	return fromSession(c.pc.LocalDescription()), nil
}

func (c *Conn) CreateAnswer(ctx context.Context, offer model.Description) (model.Description, error) {
	if err := ctx.Err(); err != nil {
		return model.Description{}, err
	}
	if err := c.pc.SetRemoteDescription(toSession(offer)); err != nil {
		return model.Description{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return model.Description{}, err
	}
	if err = c.pc.SetLocalDescription(answer); err != nil {
		return model.Description{}, err
	}
	return fromSession(c.pc.LocalDescription()), nil
}

func (c *Conn) AcceptAnswer(answer model.Description) error {
	return c.pc.SetRemoteDescription(toSession(answer))
}

func (c *Conn) AddCandidate(cand model.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

func toSession(d model.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func fromSession(sd *webrtc.SessionDescription) model.Description {
	if sd == nil {
		return model.Description{}
	}
	return model.Description{
		Type: sd.Type.String(),
		SDP:  sd.SDP,
	}
}
