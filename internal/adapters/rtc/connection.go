// Package rtc implements peer transports on top of pion/webrtc.
package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ core.PeerTransport = (*Connection)(nil)

// Connection is one pion PeerConnection towards one remote participant.
// Candidates trickle: descriptions are returned as soon as they are set,
// without waiting for gathering to complete.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu      sync.Mutex
	onICE   func(domain.Candidate)
	onTrack func(core.RemoteTrack)
	onState func(core.TransportState)

	closed atomic.Bool
}

func newConnection(pc *webrtc.PeerConnection, id domain.ParticipantID) *Connection {
	c := &Connection{
		pc:     pc,
		logger: log.With().Str("module", "webrtc").Str("participant", string(id)).Logger(),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(candidateFromInit(cand.ToJSON()))
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		rt := &RemoteTrack{TrackRemote: track}
		go rt.consume(c.logger)
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(rt)
		}
	})
	return c
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *Connection) ApplyOffer(sdp string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *Connection) AddICECandidate(cand domain.Candidate) error {
	return c.pc.AddICECandidate(candidateToInit(cand))
}

// AddLocalTrack attaches a local track and drains RTCP from its sender.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) OnICECandidate(fn func(domain.Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Close is idempotent. Callbacks are detached first so a closing
// connection reports nothing further.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	c.onICE, c.onTrack, c.onState = nil, nil, nil
	c.mu.Unlock()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

// RemoteTrack is an incoming track. It is read continuously so pion's
// buffers never fill; the packet counters are what a player would consume.
type RemoteTrack struct {
	*webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

// Packets reports how many RTP packets arrived so far.
func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }

// Bytes reports the payload bytes that arrived so far.
func (t *RemoteTrack) Bytes() uint64 { return t.bytes.Load() }

// LastSequence is the RTP sequence number of the newest packet.
func (t *RemoteTrack) LastSequence() uint16 { return uint16(t.lastSeq.Load()) }

func (t *RemoteTrack) consume(logger zerolog.Logger) {
	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("track_id", t.ID()).Uint64("packets", t.Packets()).Msg("remote track ended")
			return
		}
		t.observe(pkt)
	}
}

func (t *RemoteTrack) observe(pkt *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	}
	return core.TransportNew
}

func candidateFromInit(i webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        i.Candidate,
		SDPMid:           i.SDPMid,
		SDPMLineIndex:    i.SDPMLineIndex,
		UsernameFragment: i.UsernameFragment,
	}
}

func candidateToInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
