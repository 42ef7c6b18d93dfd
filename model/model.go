package model

import "encoding/json"

// Envelope types carried over a signaling session.
// join-room flows client->hub, presence-* are emitted only by the hub,
// everything else is relayed between participants.
const (
	TypeJoinRoom       = "join-room"
	TypePresenceList   = "presence-list"
	TypePresenceJoined = "presence-joined"
	TypePresenceLeft   = "presence-left"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICECandidate   = "ice-candidate"
	TypeChat           = "chat"
)

type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"` // for inbound messages hub re-assigns this based on websocket session
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsUnicast tells whether envelope type requires a specific target.
func IsUnicast(typ string) bool {
	switch typ {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

// PresenceList is the hub's reply to join-room. Self is the connection id
// the hub assigned to the joiner; Occupants are the other members of the
// room at the moment the join was processed.
type PresenceList struct {
	Self      string   `json:"self"`
	Occupants []string `json:"occupants"`
}

type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors the ICE candidate init dictionary so the hub side
// never links the webrtc stack.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type Chat struct {
	Room string `json:"room,omitempty"`
	Text string `json:"text"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room_id"`
}

type Room struct {
	ID           string                 `json:"room_id"`
	Participants map[string]Participant `json:"participants"`
}

// JoinSnapshot is the point-in-time membership view produced by a join.
// PrevRoom is non-empty when the join moved the participant out of
// another room, in which case PrevMembers are its remaining members.
type JoinSnapshot struct {
	Others      []string
	PrevRoom    string
	PrevMembers []string
}

type Wire struct {
	RX chan Envelope
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Envelope),
		TX: make(chan Envelope),
	}
}
