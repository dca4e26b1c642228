package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Voice/internal/app/media"
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 256

var errConnectivityFailed = errors.New("connectivity check failed")

// session is one join of a Coordinator. It is never reused: a new Join
// builds a new session.
type session struct {
	c      *Coordinator
	room   domain.RoomID
	self   domain.ParticipantID
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	async  func(func())

	// ready receives the outcome of the room join exactly once.
	ready  chan error
	joined bool

	// Resources acquired during start. Guarded by mu because teardown can
	// run concurrently with start when Leave interrupts a join.
	mu          sync.Mutex
	closed      bool
	media       *media.Resource
	signal      core.SignalChannel
	pool        *Pool
	loopStarted bool
	loopDone    chan struct{}
	once        sync.Once
}

func newSession(c *Coordinator, room domain.RoomID, self domain.ParticipantID) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		c:        c,
		room:     room,
		self:     self,
		logger:   log.With().Str("module", "session").Str("room", string(room)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, eventBuffer),
		async:    c.async,
		ready:    make(chan error, 1),
		loopDone: make(chan struct{}),
	}
}

// adopt runs fn under the resource lock unless teardown already ran.
func (s *session) adopt(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

// post hands ev to the loop. Events posted after the session ended are dropped.
func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// start walks idle → joining → (ready for) active: media, relay, room.
func (s *session) start(ctx context.Context) error {
	opts := s.c.opts

	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	if opts.JoinTimeout > 0 {
		var cancelTimeout context.CancelFunc
		joinCtx, cancelTimeout = context.WithTimeout(joinCtx, opts.JoinTimeout)
		defer cancelTimeout()
	}

	res, err := media.Acquire(joinCtx, opts.Device, opts.Constraints)
	if err != nil {
		if s.ctx.Err() != nil {
			return core.ErrJoinAborted
		}
		return err
	}
	if !s.adopt(func() { s.media = res }) {
		res.Release()
		return core.ErrJoinAborted
	}

	sig := opts.NewSignal()
	sig.OnMessage(func(m domain.Message) { s.post(signalEvent{msg: m}) })
	sig.OnDisconnect(func(err error) { s.post(disconnectedEvent{err: err}) })
	pool := newPool(s.self, opts.NewTransport, res.Tracks(), s.post, s.c.participants.Set, opts.Metrics)
	if !s.adopt(func() {
		s.signal = sig
		s.pool = pool
		s.loopStarted = true
	}) {
		return core.ErrJoinAborted
	}
	go s.loop()

	if err := sig.Connect(joinCtx, opts.Endpoint); err != nil {
		return s.connErr(err)
	}
	if err := sig.JoinRoom(joinCtx, s.room, s.self); err != nil {
		return s.connErr(err)
	}

	select {
	case err := <-s.ready:
		return err
	case <-joinCtx.Done():
		return s.connErr(joinCtx.Err())
	}
}

func (s *session) connErr(err error) error {
	if s.ctx.Err() != nil {
		return core.ErrJoinAborted
	}
	var ce *core.ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	return &core.ConnectionError{Endpoint: s.c.opts.Endpoint, Err: err}
}

// teardown releases everything in order: links, media, relay. Each step is
// skipped when its resource was never acquired. Runs once.
func (s *session) teardown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		started, pool, res, sig := s.loopStarted, s.pool, s.media, s.signal
		s.mu.Unlock()

		s.cancel()
		if started {
			<-s.loopDone
		}
		if pool != nil {
			pool.DestroyAll()
		}
		res.Release()
		if sig != nil {
			sig.Disconnect()
		}
		s.logger.Info().Msg("session torn down")
	})
}

func (s *session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if !s.dispatch(ev) {
				return
			}
		}
	}
}

// dispatch handles one event. It returns false when the session must stop.
func (s *session) dispatch(ev event) bool {
	switch e := ev.(type) {
	case signalEvent:
		s.handleSignal(e.msg)
	case disconnectedEvent:
		s.logger.Warn().Err(e.err).Msg("relay connection lost")
		if !s.joined {
			s.resolveJoin(&core.ConnectionError{Endpoint: s.c.opts.Endpoint, Err: e.err})
		}
		go s.c.end(s)
		return false
	case localCandidateEvent:
		l := s.pool.current(e.id, e.gen)
		if l == nil {
			return true
		}
		if l.state == LinkOffering {
			l.outbox = append(l.outbox, e.cand)
			return true
		}
		s.send(domain.NewICECandidate(e.cand), e.id)
	case remoteTrackEvent:
		l := s.pool.current(e.id, e.gen)
		if l == nil {
			return true
		}
		l.tracks = append(l.tracks, e.track)
		s.pool.publishStream(l)
		s.logger.Info().Str("participant", string(e.id)).Str("kind", e.track.Kind().String()).Str("track_id", e.track.ID()).Msg("remote track")
	case transportStateEvent:
		s.onTransportState(e)
	case offerCreatedEvent:
		s.onOfferCreated(e)
	case answerCreatedEvent:
		s.onAnswerCreated(e)
	case answerAppliedEvent:
		s.onAnswerApplied(e)
	case inspectEvent:
		e.fn(s)
		close(e.done)
	default:
		s.logger.Warn().Str("event", ev.name()).Msg("unhandled event")
	}
	return true
}

func (s *session) handleSignal(msg domain.Message) {
	switch msg.Type {
	case domain.MsgJoined:
		s.onJoined(msg)
	case domain.MsgError:
		if !s.joined {
			s.resolveJoin(&core.ConnectionError{Endpoint: s.c.opts.Endpoint, Err: fmt.Errorf("%w: %s", core.ErrJoinRejected, msg.Error)})
			return
		}
		s.logger.Warn().Str("error", msg.Error).Msg("relay error")
	case domain.MsgParticipantJoined:
		s.onParticipantJoined(msg.ParticipantID)
	case domain.MsgParticipantLeft:
		if !s.pool.Destroy(msg.ParticipantID) {
			s.stale(msg)
		}
	case domain.MsgOffer:
		s.onOffer(msg)
	case domain.MsgAnswer:
		s.onAnswer(msg)
	case domain.MsgICECandidate:
		s.onRemoteCandidate(msg)
	case domain.MsgPong:
	default:
		s.logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func (s *session) resolveJoin(err error) {
	select {
	case s.ready <- err:
	default:
	}
}

func (s *session) onJoined(msg domain.Message) {
	if s.joined {
		return
	}
	if msg.ParticipantID != "" {
		s.self = msg.ParticipantID
		s.pool.self = msg.ParticipantID
	}
	s.joined = true
	s.logger = s.logger.With().Str("self", string(s.self)).Logger()

	// Existing members offer to us once they see our join.
	for _, id := range msg.Participants {
		if _, err := s.pool.Ensure(id); err != nil {
			s.logger.Warn().Err(err).Str("participant", string(id)).Msg("ensure existing member")
		}
	}
	s.logger.Info().Int("existing", len(msg.Participants)).Msg("joined room")
	s.resolveJoin(nil)
}

func (s *session) onParticipantJoined(id domain.ParticipantID) {
	l, err := s.pool.Ensure(id)
	if err != nil {
		s.logger.Warn().Err(err).Str("participant", string(id)).Msg("ensure joined participant")
		return
	}
	if l.state != LinkNew || l.busy {
		return
	}
	s.startOffer(l)
}

func (s *session) startOffer(l *PeerLink) {
	if l.transport == nil {
		return
	}
	l.state = LinkOffering
	l.busy = true
	id, gen, t := l.id, l.gen, l.transport
	s.async(func() {
		sdp, err := t.CreateOffer()
		s.post(offerCreatedEvent{id: id, gen: gen, sdp: sdp, err: err})
	})
}

func (s *session) onOfferCreated(e offerCreatedEvent) {
	l := s.pool.current(e.id, e.gen)
	if l == nil || l.state != LinkOffering {
		s.logger.Debug().Str("participant", string(e.id)).Msg("discarding stale offer")
		return
	}
	l.busy = false
	if e.err != nil {
		s.fail(l, fmt.Errorf("create offer: %w", e.err))
		return
	}
	s.send(domain.NewOffer(e.sdp), l.id)
	l.state = LinkAwaitingAnswer
	outbox := l.outbox
	l.outbox = nil
	for _, c := range outbox {
		s.send(domain.NewICECandidate(c), l.id)
	}
}

func (s *session) onOffer(msg domain.Message) {
	l, err := s.pool.Ensure(msg.From)
	if err != nil {
		s.logger.Warn().Err(err).Str("participant", string(msg.From)).Msg("ensure offering participant")
		return
	}
	switch {
	case l.state == LinkClosed:
		return
	case l.state == LinkOffering || l.state == LinkAwaitingAnswer:
		if !l.polite {
			s.logger.Info().Str("participant", string(l.id)).Msg("offer collision, keeping ours")
			return
		}
		s.logger.Info().Str("participant", string(l.id)).Msg("offer collision, yielding")
		if err := s.resetForOffer(l); err != nil {
			s.fail(l, err)
			return
		}
	case l.state == LinkFailed || l.busy:
		if err := s.resetForOffer(l); err != nil {
			s.fail(l, err)
			return
		}
	}
	if l.transport == nil {
		return
	}

	l.busy = true
	id, gen, t, sdp := l.id, l.gen, l.transport, msg.SDP
	s.async(func() {
		answer, err := t.ApplyOffer(sdp)
		s.post(answerCreatedEvent{id: id, gen: gen, sdp: answer, err: err})
	})
}

// resetForOffer replaces l's transport before answering a remote offer.
// Buffered remote candidates belong to that offer and survive the reset.
func (s *session) resetForOffer(l *PeerLink) error {
	pending := l.pending
	if err := s.pool.Reset(l.id); err != nil {
		return err
	}
	l.pending = pending
	return nil
}

func (s *session) onAnswerCreated(e answerCreatedEvent) {
	l := s.pool.current(e.id, e.gen)
	if l == nil {
		s.logger.Debug().Str("participant", string(e.id)).Msg("discarding stale answer")
		return
	}
	l.busy = false
	if e.err != nil {
		s.fail(l, fmt.Errorf("apply offer: %w", e.err))
		return
	}
	l.remoteSet = true
	s.flush(l)
	s.send(domain.NewAnswer(e.sdp), l.id)
	l.state = LinkConnected
}

func (s *session) onAnswer(msg domain.Message) {
	l, ok := s.pool.Get(msg.From)
	if !ok || l.state != LinkAwaitingAnswer || l.busy {
		s.stale(msg)
		return
	}
	l.busy = true
	id, gen, t, sdp := l.id, l.gen, l.transport, msg.SDP
	s.async(func() {
		s.post(answerAppliedEvent{id: id, gen: gen, err: t.ApplyAnswer(sdp)})
	})
}

func (s *session) onAnswerApplied(e answerAppliedEvent) {
	l := s.pool.current(e.id, e.gen)
	if l == nil {
		return
	}
	l.busy = false
	if e.err != nil {
		s.fail(l, fmt.Errorf("apply answer: %w", e.err))
		return
	}
	l.remoteSet = true
	s.flush(l)
	l.state = LinkConnected
}

func (s *session) onRemoteCandidate(msg domain.Message) {
	l, ok := s.pool.Get(msg.From)
	if !ok || msg.Candidate == nil || l.transport == nil {
		s.stale(msg)
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, *msg.Candidate)
		return
	}
	if err := l.transport.AddICECandidate(*msg.Candidate); err != nil {
		s.logger.Warn().Err(err).Str("participant", string(l.id)).Msg("add ice candidate")
	}
}

// flush applies candidates that arrived before the remote description, in arrival order.
func (s *session) flush(l *PeerLink) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Str("participant", string(l.id)).Msg("add buffered ice candidate")
		}
	}
}

func (s *session) onTransportState(e transportStateEvent) {
	l := s.pool.current(e.id, e.gen)
	if l == nil {
		return
	}
	s.logger.Info().Str("participant", string(l.id)).Str("transport", e.state.String()).Str("link", l.state.String()).Msg("transport state")
	if e.state == core.TransportFailed {
		s.fail(l, errConnectivityFailed)
	}
}

// fail marks l failed. The impolite side re-offers on a fresh transport
// while it has attempts left; otherwise the link stays failed with no
// remote stream until the remote re-offers or leaves.
func (s *session) fail(l *PeerLink, err error) {
	l.state = LinkFailed
	l.busy = false
	l.outbox = nil
	l.tracks = nil
	s.pool.publishStream(l)
	s.c.opts.Metrics.NegotiationFailed()

	nf := &core.NegotiationFailure{Participant: string(l.id), Attempts: l.attempts + 1, Err: err}
	s.logger.Warn().Err(nf).Msg("negotiation failure")

	if l.polite || l.attempts >= s.c.opts.MaxReoffers {
		return
	}
	l.attempts++
	if err := s.pool.Reset(l.id); err != nil {
		l.state = LinkFailed
		s.logger.Warn().Err(err).Str("participant", string(l.id)).Msg("reset after failure")
		return
	}
	s.startOffer(l)
}

func (s *session) send(msg domain.Message, to domain.ParticipantID) {
	if err := s.signal.Send(msg, to); err != nil {
		s.logger.Warn().Err(err).Str("type", string(msg.Type)).Str("participant", string(to)).Msg("send")
	}
}

func (s *session) stale(msg domain.Message) {
	s.c.opts.Metrics.Stale(string(msg.Type))
	id := msg.From
	if id == "" {
		id = msg.ParticipantID
	}
	s.logger.Debug().Str("type", string(msg.Type)).Str("participant", string(id)).Msg("stale message ignored")
}
