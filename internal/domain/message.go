package domain

type MessageType string

const (
	// Coordinator-facing variants.
	MsgParticipantJoined MessageType = "participant-joined"
	MsgParticipantLeft   MessageType = "participant-left"
	MsgOffer             MessageType = "offer"
	MsgAnswer            MessageType = "answer"
	MsgICECandidate      MessageType = "ice-candidate"

	// Relay control.
	MsgJoin   MessageType = "join"
	MsgJoined MessageType = "joined"
	MsgLeave  MessageType = "leave"
	MsgPing   MessageType = "ping"
	MsgPong   MessageType = "pong"
	MsgError  MessageType = "error"
)

// Routed reports whether the relay forwards this type to a single target.
func (t MessageType) Routed() bool {
	switch t {
	case MsgOffer, MsgAnswer, MsgICECandidate:
		return true
	}
	return false
}

// Candidate is a network path proposal in the JSON shape browsers use.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Message is the single wire envelope exchanged with the relay.
// Which fields are set depends on Type. Clients fill To on routed messages,
// the relay replaces it with From before forwarding.
type Message struct {
	Type          MessageType     `json:"type"`
	Room          RoomID          `json:"room,omitempty"`
	ParticipantID ParticipantID   `json:"participantId,omitempty"`
	Participants  []ParticipantID `json:"participants,omitempty"`
	From          ParticipantID   `json:"from,omitempty"`
	To            ParticipantID   `json:"to,omitempty"`
	SDP           string          `json:"sdp,omitempty"`
	Candidate     *Candidate      `json:"candidate,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func NewOffer(sdp string) Message  { return Message{Type: MsgOffer, SDP: sdp} }
func NewAnswer(sdp string) Message { return Message{Type: MsgAnswer, SDP: sdp} }

func NewICECandidate(c Candidate) Message {
	return Message{Type: MsgICECandidate, Candidate: &c}
}
