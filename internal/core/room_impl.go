package core

import (
	"slices"
	"sync"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room
	mu   sync.RWMutex
	byID map[domain.ParticipantID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room: room,
		byID: make(map[domain.ParticipantID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *roomImpl) Member(id domain.ParticipantID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.byID[id]
	return ms, ok
}

func (r *roomImpl) AddMember(ms MemberSession) error {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return ErrParticipantIDTaken
	}
	r.byID[id] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.byID {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(to domain.ParticipantID, data Frame) error {
	r.mu.RLock()
	m, ok := r.byID[to]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownParticipant
	}
	return m.Signal().TrySend(data)
}

func (r *roomImpl) Members() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
