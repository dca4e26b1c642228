// Package session coordinates one participant's side of a mesh call: it
// captures local media, talks to the signaling relay, and keeps one peer
// link per remote participant in step with the room roster.
//
// All session state is mutated on a single event loop per join. Relay
// messages, transport callbacks and the results of description steps are
// posted to it as typed events and handled one at a time.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/observe"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	}
	return "unknown"
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	// Endpoint is the relay URL handed to SignalChannel.Connect.
	Endpoint    string
	Constraints core.Constraints
	// JoinTimeout bounds the whole join, zero means only ctx bounds it.
	JoinTimeout time.Duration
	// MaxReoffers is how many times a failed link is re-offered.
	MaxReoffers int

	Device       core.MediaDevice
	NewSignal    func() core.SignalChannel
	NewTransport core.TransportFactory
	Metrics      *observe.SessionMetrics
}

// Coordinator is owned by the caller. It runs at most one session at a time
// and can be joined again after it went back to idle.
type Coordinator struct {
	opts  Options
	async func(func())

	connected    *Observable[bool]
	participants *Observable[[]domain.ParticipantID]

	mu    sync.Mutex
	state State
	sess  *session
	self  domain.ParticipantID
}

func New(opts Options) *Coordinator {
	return &Coordinator{
		opts:         opts,
		async:        func(fn func()) { go fn() },
		connected:    NewObservable(false),
		participants: NewObservable([]domain.ParticipantID{}),
	}
}

// Join captures local media, connects to the relay and enters room.
// It fails with *core.DeviceError or *core.ConnectionError, or with
// core.ErrJoinAborted when Leave interrupts it. On failure nothing stays
// acquired and the coordinator is idle again.
func (c *Coordinator) Join(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return core.ErrAlreadyJoined
	}
	s := newSession(c, room, self)
	c.sess = s
	c.state = StateJoining
	c.mu.Unlock()

	log.Info().Str("module", "session").Str("room", string(room)).Str("self", string(self)).Msg("joining")

	if err := s.start(ctx); err != nil {
		s.teardown()
		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.opts.Metrics.Join(joinResult(err))
		log.Warn().Err(err).Str("module", "session").Str("room", string(room)).Msg("join failed")
		return err
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		c.opts.Metrics.Join(joinResult(core.ErrJoinAborted))
		return core.ErrJoinAborted
	}
	c.state = StateActive
	c.self = s.self
	c.connected.Set(true)
	c.mu.Unlock()

	c.opts.Metrics.Join("ok")
	return nil
}

// Leave ends the current session, if any. It never fails and is safe to
// call repeatedly or while Join is still running.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.end(s)
}

// end tears s down if it is still the current session.
func (c *Coordinator) end(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.state = StateLeaving
	c.mu.Unlock()

	s.teardown()

	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
		c.state = StateIdle
		c.self = ""
		c.connected.Set(false)
	}
	c.mu.Unlock()
	log.Info().Str("module", "session").Str("room", string(s.room)).Msg("left")
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelfID is the id the relay confirmed for this side, empty when not active.
func (c *Coordinator) SelfID() domain.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Coordinator) Connected() *Observable[bool] { return c.connected }

// Participants publishes the sorted set of remote participants.
func (c *Coordinator) Participants() *Observable[[]domain.ParticipantID] { return c.participants }

// RemoteStream returns the stream observable of id. For an unknown id it
// returns a detached observable that stays nil.
func (c *Coordinator) RemoteStream(id domain.ParticipantID) *Observable[*RemoteStream] {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.mu.Lock()
		pool := s.pool
		s.mu.Unlock()
		if pool != nil {
			if obs := pool.Stream(id); obs != nil {
				return obs
			}
		}
	}
	return NewObservable[*RemoteStream](nil)
}

// LocalPreviewTrack is the track to render as self view, nil when not joined.
func (c *Coordinator) LocalPreviewTrack() webrtc.TrackLocal {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media.PreviewTrack()
}

// LinkState reports the state of the link to id as seen by the event loop.
func (c *Coordinator) LinkState(id domain.ParticipantID) (LinkState, bool) {
	var (
		st LinkState
		ok bool
	)
	c.inspect(func(s *session) {
		var l *PeerLink
		if l, ok = s.pool.Get(id); ok {
			st = l.state
		}
	})
	return st, ok
}

// inspect runs fn on the current session's loop and waits for it. It is a
// no-op when there is no running loop.
func (c *Coordinator) inspect(fn func(*session)) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	started := s.loopStarted
	s.mu.Unlock()
	if !started {
		return
	}
	done := make(chan struct{})
	select {
	case s.events <- inspectEvent{fn: fn, done: done}:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-s.loopDone:
	}
}

func joinResult(err error) string {
	var (
		de *core.DeviceError
		ce *core.ConnectionError
	)
	switch {
	case errors.As(err, &de):
		return "device_error"
	case errors.As(err, &ce):
		return "connection_error"
	case errors.Is(err, core.ErrJoinAborted):
		return "aborted"
	}
	return "error"
}
