package app

import (
	"context"
	"sync"

	"github.com/dkeye/Voice/internal/core"
	"github.com/rs/zerolog/log"
)

// sessionEntry is one relay connection. Session is nil until it joins a room.
type sessionEntry struct {
	Signal  core.SignalConnection
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks live relay connections by their connection id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// BindMember records that sid joined as sess.
func (r *Registry) BindMember(sid core.SessionID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Session = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("room", string(sess.Meta().Room)).Str("participant", string(sess.Meta().ID)).Msg("bound member")
	return true
}

// MemberOf returns the room membership of sid, if it joined one.
func (r *Registry) MemberOf(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session == nil {
		return nil, false
	}
	return e.Session, true
}

// ClearMember forgets the membership of sid and returns what it was.
func (r *Registry) ClearMember(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session == nil {
		return nil, false
	}
	sess := e.Session
	e.Session = nil
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	return sess, true
}

// SIDOf finds the connection that owns sess.
func (r *Registry) SIDOf(sess core.MemberSession) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, e := range r.sessions {
		if e.Session == sess {
			return sid, true
		}
	}
	return "", false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the pumps of sid. The connection then unwinds through its
// normal disconnect path.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
