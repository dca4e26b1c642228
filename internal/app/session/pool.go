package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/observe"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errSelfLink = errors.New("refusing to link to self")

// Pool is the only place peer links are created or destroyed. Its keys are
// the session's participant set, so the roster it publishes can never
// disagree with the links that exist.
//
// Link bookkeeping is owned by the event loop. Only the stream observables
// are read from other goroutines, under mu.
type Pool struct {
	self    domain.ParticipantID
	factory core.TransportFactory
	local   []webrtc.TrackLocal
	post    func(event)
	roster  func([]domain.ParticipantID)
	metrics *observe.SessionMetrics
	logger  zerolog.Logger

	links   map[domain.ParticipantID]*PeerLink
	lastGen uint64

	mu      sync.Mutex
	streams map[domain.ParticipantID]*Observable[*RemoteStream]
}

func newPool(
	self domain.ParticipantID,
	factory core.TransportFactory,
	local []webrtc.TrackLocal,
	post func(event),
	roster func([]domain.ParticipantID),
	metrics *observe.SessionMetrics,
) *Pool {
	return &Pool{
		self:    self,
		factory: factory,
		local:   local,
		post:    post,
		roster:  roster,
		metrics: metrics,
		logger:  log.With().Str("module", "session.pool").Logger(),
		links:   make(map[domain.ParticipantID]*PeerLink),
		streams: make(map[domain.ParticipantID]*Observable[*RemoteStream]),
	}
}

// Ensure returns the link for id, creating it if absent.
func (p *Pool) Ensure(id domain.ParticipantID) (*PeerLink, error) {
	if l, ok := p.links[id]; ok {
		return l, nil
	}
	if id == "" || id == p.self {
		return nil, errSelfLink
	}
	l := &PeerLink{id: id, polite: p.self > id}
	if err := p.attach(l); err != nil {
		return nil, err
	}
	p.links[id] = l

	p.mu.Lock()
	p.streams[id] = NewObservable[*RemoteStream](nil)
	p.mu.Unlock()

	p.metrics.LinkOpened()
	p.logger.Info().Str("participant", string(id)).Bool("polite", l.polite).Msg("link created")
	p.publish()
	return l, nil
}

// Get returns the link for id without creating it.
func (p *Pool) Get(id domain.ParticipantID) (*PeerLink, bool) {
	l, ok := p.links[id]
	return l, ok
}

// current returns the link for id only if it still runs generation gen.
func (p *Pool) current(id domain.ParticipantID, gen uint64) *PeerLink {
	l, ok := p.links[id]
	if !ok || l.gen != gen || l.state == LinkClosed {
		return nil
	}
	return l
}

// Destroy closes and removes the link for id. Reports whether one existed.
func (p *Pool) Destroy(id domain.ParticipantID) bool {
	l, ok := p.links[id]
	if !ok {
		return false
	}
	p.close(l)
	delete(p.links, id)

	p.mu.Lock()
	obs := p.streams[id]
	delete(p.streams, id)
	p.mu.Unlock()
	if obs != nil {
		obs.Set(nil)
	}

	p.metrics.LinkClosed()
	p.logger.Info().Str("participant", string(id)).Msg("link destroyed")
	p.publish()
	return true
}

// DestroyAll tears down every link. Used when the session ends.
func (p *Pool) DestroyAll() {
	for id, l := range p.links {
		p.close(l)
		delete(p.links, id)
		p.metrics.LinkClosed()
	}
	p.mu.Lock()
	streams := p.streams
	p.streams = make(map[domain.ParticipantID]*Observable[*RemoteStream])
	p.mu.Unlock()
	for _, obs := range streams {
		obs.Set(nil)
	}
	p.publish()
}

// Reset swaps the link's transport for a fresh one while keeping the link
// itself. Whatever the old transport was doing becomes stale.
func (p *Pool) Reset(id domain.ParticipantID) error {
	l, ok := p.links[id]
	if !ok {
		return fmt.Errorf("reset %s: %w", id, core.ErrUnknownParticipant)
	}
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			p.logger.Warn().Err(err).Str("participant", string(id)).Msg("close on reset")
		}
		l.transport = nil
	}
	l.state = LinkNew
	l.busy = false
	l.remoteSet = false
	l.pending = nil
	l.outbox = nil
	if len(l.tracks) > 0 {
		l.tracks = nil
		p.publishStream(l)
	}
	return p.attach(l)
}

// Stream returns the remote-stream observable for id, or nil.
func (p *Pool) Stream(id domain.ParticipantID) *Observable[*RemoteStream] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[id]
}

// IDs returns the participant set, sorted.
func (p *Pool) IDs() []domain.ParticipantID {
	ids := make([]domain.ParticipantID, 0, len(p.links))
	for id := range p.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *Pool) Len() int { return len(p.links) }

func (p *Pool) publishStream(l *PeerLink) {
	if obs := p.Stream(l.id); obs != nil {
		obs.Set(l.stream())
	}
}

func (p *Pool) publish() {
	if p.roster != nil {
		p.roster(p.IDs())
	}
}

// attach gives l a new transport with the local tracks and event hooks bound
// to a new generation.
func (p *Pool) attach(l *PeerLink) error {
	t, err := p.factory(l.id)
	if err != nil {
		return fmt.Errorf("transport for %s: %w", l.id, err)
	}
	for _, track := range p.local {
		if err := t.AddLocalTrack(track); err != nil {
			_ = t.Close()
			return fmt.Errorf("attach %s track to %s: %w", track.Kind(), l.id, err)
		}
	}
	p.lastGen++
	gen := p.lastGen
	id := l.id

	t.OnICECandidate(func(c domain.Candidate) {
		p.post(localCandidateEvent{id: id, gen: gen, cand: c})
	})
	t.OnTrack(func(track core.RemoteTrack) {
		p.post(remoteTrackEvent{id: id, gen: gen, track: track})
	})
	t.OnStateChange(func(s core.TransportState) {
		p.post(transportStateEvent{id: id, gen: gen, state: s})
	})

	l.transport = t
	l.gen = gen
	return nil
}

func (p *Pool) close(l *PeerLink) {
	l.state = LinkClosed
	l.pending = nil
	l.tracks = nil
	if l.transport == nil {
		return
	}
	if err := l.transport.Close(); err != nil {
		p.logger.Warn().Err(err).Str("participant", string(l.id)).Msg("transport close")
	}
	l.transport = nil
}
