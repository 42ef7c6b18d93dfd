package pion

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

const defaultTrackStreamID = "videocl"

// Media is the local capture source: one audio and one video track shared
// read-only by every peer connection. The caller feeds samples through
// the track accessors; this package only owns the track lifecycle.
type Media struct {
	mx       sync.Mutex
	audio    *webrtc.TrackLocalStaticSample
	video    *webrtc.TrackLocalStaticSample
	acquired bool
}

func NewMedia() *Media {
	return &Media{}
}

func (m *Media) Acquire(_ context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.acquired {
		return nil
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", defaultTrackStreamID)
	if err != nil {
		return err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", defaultTrackStreamID)
	if err != nil {
		return err
	}

	m.audio = audio
	m.video = video
	m.acquired = true
	return nil
}

func (m *Media) Release() {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.audio = nil
	m.video = nil
	m.acquired = false
}

func (m *Media) Tracks() []webrtc.TrackLocal {
	m.mx.Lock()
	defer m.mx.Unlock()

	var tracks []webrtc.TrackLocal
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

func (m *Media) AudioTrack() *webrtc.TrackLocalStaticSample {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.audio
}

func (m *Media) VideoTrack() *webrtc.TrackLocalStaticSample {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.video
}
