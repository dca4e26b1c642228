// Package mock provides in-memory implementations of [core.SignalChannel],
// [core.PeerTransport], and [core.MediaDevice] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on them, expose exported fields that control return values, and
// offer Emit* helpers that play the remote side.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/pion/webrtc/v4"
)

var errNoRemoteDescription = errors.New("mock: remote description not set")

// ─── SignalChannel ────────────────────────────────────────────────────────────

var _ core.SignalChannel = (*Signal)(nil)

// Sent is one recorded call to [Signal.Send].
type Sent struct {
	Msg domain.Message
	To  domain.ParticipantID
}

// Signal is a mock [core.SignalChannel]. By default JoinRoom answers with a
// joined confirmation listing Existing.
type Signal struct {
	mu sync.Mutex

	// ConnectError is returned by Connect.
	ConnectError error
	// JoinError is returned by JoinRoom.
	JoinError error
	// RejectJoin makes JoinRoom answer with an error message instead of joined.
	RejectJoin string
	// SilentJoin makes JoinRoom answer nothing at all.
	SilentJoin bool
	// AssignedID overrides the id echoed in the joined confirmation.
	AssignedID domain.ParticipantID
	// Existing is the roster returned in the joined confirmation.
	Existing []domain.ParticipantID
	// SendError is returned by Send.
	SendError error

	Endpoint         string
	JoinedRoom       domain.RoomID
	JoinedAs         domain.ParticipantID
	CallCountConnect int
	CallCountJoin    int
	CallCountDisc    int
	sent             []Sent

	onMessage    func(domain.Message)
	onDisconnect func(error)
}

func (s *Signal) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountConnect++
	s.Endpoint = endpoint
	if s.ConnectError != nil {
		return s.ConnectError
	}
	return ctx.Err()
}

func (s *Signal) JoinRoom(_ context.Context, room domain.RoomID, self domain.ParticipantID) error {
	s.mu.Lock()
	s.CallCountJoin++
	s.JoinedRoom = room
	s.JoinedAs = self
	err := s.JoinError
	reject := s.RejectJoin
	silent := s.SilentJoin
	id := self
	if s.AssignedID != "" {
		id = s.AssignedID
	}
	existing := append([]domain.ParticipantID(nil), s.Existing...)
	s.mu.Unlock()

	if err != nil || silent {
		return err
	}
	if reject != "" {
		s.Emit(domain.Message{Type: domain.MsgError, Error: reject})
		return nil
	}
	s.Emit(domain.Message{Type: domain.MsgJoined, ParticipantID: id, Participants: existing})
	return nil
}

func (s *Signal) Send(msg domain.Message, to domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendError != nil {
		return s.SendError
	}
	s.sent = append(s.sent, Sent{Msg: msg, To: to})
	return nil
}

func (s *Signal) OnMessage(fn func(domain.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

func (s *Signal) OnDisconnect(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

func (s *Signal) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDisc++
}

// Emit delivers msg to the registered message handler as if it came from the relay.
func (s *Signal) Emit(msg domain.Message) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Drop simulates a transport loss.
func (s *Signal) Drop(err error) {
	s.mu.Lock()
	fn := s.onDisconnect
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// SentMessages returns a snapshot of everything passed to Send.
func (s *Signal) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// SentTo returns the messages of type typ sent to participant to.
func (s *Signal) SentTo(to domain.ParticipantID, typ domain.MessageType) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.sent {
		if m.To == to && m.Msg.Type == typ {
			out = append(out, m.Msg)
		}
	}
	return out
}

// Disconnects returns how many times Disconnect was called.
func (s *Signal) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountDisc
}

// Connects returns how many times Connect was called.
func (s *Signal) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountConnect
}

// ─── PeerTransport ────────────────────────────────────────────────────────────

var _ core.PeerTransport = (*Transport)(nil)

// Transport is a mock [core.PeerTransport]. Like pion, it refuses remote
// candidates until a remote description has been applied.
type Transport struct {
	mu sync.Mutex

	ID domain.ParticipantID

	CreateOfferError error
	ApplyOfferError  error
	ApplyAnswerError error
	// Gate, when non-nil, blocks description methods until it is closed.
	Gate chan struct{}

	OffersCreated  int
	AppliedOffers  []string
	AppliedAnswers []string
	Candidates     []domain.Candidate
	LocalTracks    []webrtc.TrackLocal
	CloseCount     int
	remoteSet      bool

	onICE   func(domain.Candidate)
	onTrack func(core.RemoteTrack)
	onState func(core.TransportState)
}

func (t *Transport) wait() {
	t.mu.Lock()
	g := t.Gate
	t.mu.Unlock()
	if g != nil {
		<-g
	}
}

func (t *Transport) CreateOffer() (string, error) {
	t.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CreateOfferError != nil {
		return "", t.CreateOfferError
	}
	t.OffersCreated++
	return "offer-to-" + string(t.ID), nil
}

func (t *Transport) ApplyOffer(sdp string) (string, error) {
	t.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ApplyOfferError != nil {
		return "", t.ApplyOfferError
	}
	t.AppliedOffers = append(t.AppliedOffers, sdp)
	t.remoteSet = true
	return "answer-to-" + string(t.ID), nil
}

func (t *Transport) ApplyAnswer(sdp string) error {
	t.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ApplyAnswerError != nil {
		return t.ApplyAnswerError
	}
	t.AppliedAnswers = append(t.AppliedAnswers, sdp)
	t.remoteSet = true
	return nil
}

func (t *Transport) AddICECandidate(c domain.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errNoRemoteDescription
	}
	t.Candidates = append(t.Candidates, c)
	return nil
}

func (t *Transport) AddLocalTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LocalTracks = append(t.LocalTracks, track)
	return nil
}

func (t *Transport) OnICECandidate(fn func(domain.Candidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = fn
}

func (t *Transport) OnTrack(fn func(core.RemoteTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = fn
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCount++
	return nil
}

// EmitCandidate plays a locally gathered ICE candidate.
func (t *Transport) EmitCandidate(c domain.Candidate) {
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack plays an arriving remote track.
func (t *Transport) EmitTrack(tr core.RemoteTrack) {
	t.mu.Lock()
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}

// EmitState plays a connectivity change.
func (t *Transport) EmitState(s core.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Snapshot returns copies of the recorded calls under lock.
func (t *Transport) Snapshot() (offers int, appliedOffers, appliedAnswers []string, cands []domain.Candidate, closed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.OffersCreated,
		append([]string(nil), t.AppliedOffers...),
		append([]string(nil), t.AppliedAnswers...),
		append([]domain.Candidate(nil), t.Candidates...),
		t.CloseCount
}

// Factory hands out mock transports and remembers them per participant.
type Factory struct {
	mu sync.Mutex

	// NewError is returned by New.
	NewError error
	// Gate is copied into each new transport.
	Gate chan struct{}

	created map[domain.ParticipantID][]*Transport
}

// New implements [core.TransportFactory].
func (f *Factory) New(id domain.ParticipantID) (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewError != nil {
		return nil, f.NewError
	}
	if f.created == nil {
		f.created = make(map[domain.ParticipantID][]*Transport)
	}
	t := &Transport{ID: id, Gate: f.Gate}
	f.created[id] = append(f.created[id], t)
	return t, nil
}

// Latest returns the most recent transport created for id, or nil.
func (f *Factory) Latest(id domain.ParticipantID) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.created[id]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// All returns every transport created for id, oldest first.
func (f *Factory) All(id domain.ParticipantID) []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.created[id]...)
}

// ─── RemoteTrack ──────────────────────────────────────────────────────────────

var _ core.RemoteTrack = RemoteTrack{}

type RemoteTrack struct {
	TrackID  string
	Stream   string
	TrackKnd webrtc.RTPCodecType
}

func (r RemoteTrack) ID() string                { return r.TrackID }
func (r RemoteTrack) StreamID() string          { return r.Stream }
func (r RemoteTrack) Kind() webrtc.RTPCodecType { return r.TrackKnd }

// ─── MediaDevice ──────────────────────────────────────────────────────────────

var _ core.MediaDevice = (*Device)(nil)

// Device is a mock [core.MediaDevice] that hands out a single audio track.
type Device struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error
	// Gate, when non-nil, makes Open wait for it or for ctx.
	Gate chan struct{}

	CallCountOpen  int
	CallCountClose int
	open           bool
}

func (d *Device) Open(ctx context.Context, _ core.Constraints) ([]webrtc.TrackLocal, error) {
	d.mu.Lock()
	d.CallCountOpen++
	gate := d.Gate
	openErr := d.OpenError
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mock")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return []webrtc.TrackLocal{track}, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.open = false
	return nil
}

// Counts returns Open and Close call counts.
func (d *Device) Counts() (opens, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen, d.CallCountClose
}

// IsOpen reports whether the last Open succeeded and Close has not run since.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
