package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/colabhq/syncrelay/internal/doc"
	"github.com/colabhq/syncrelay/internal/domain"
)

// sessionImpl is a threadsafe in-memory session. One mutex guards the
// (document, membership, awareness) triple, so a merge and its fanout
// are never interleaved with another writer's. It never closes
// adapter-owned resources.
type sessionImpl struct {
	name domain.SessionName

	mu        sync.RWMutex
	state     *doc.Doc
	byConn    map[ConnID]PeerSession
	awareness map[ConnID][]byte
}

func NewSessionService(name domain.SessionName) SessionService {
	return &sessionImpl{
		name:      name,
		state:     doc.New(),
		byConn:    make(map[ConnID]PeerSession),
		awareness: make(map[ConnID][]byte),
	}
}

func (s *sessionImpl) Name() domain.SessionName { return s.name }

func (s *sessionImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}

func (s *sessionImpl) Attach(id ConnID, ps PeerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConn[id] = ps
	log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("conn", string(id)).Msg("peer attached")
}

func (s *sessionImpl) Detach(id ConnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byConn, id)
	delete(s.awareness, id)
	log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("conn", string(id)).Msg("peer detached")
	return len(s.byConn)
}

func (s *sessionImpl) Peer(id ConnID) (PeerSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.byConn[id]
	return ps, ok
}

func (s *sessionImpl) MembersSnapshot() []PeerDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerDTO, 0, len(s.byConn))
	for _, ps := range s.byConn {
		p := ps.Meta()
		out = append(out, PeerDTO{ID: p.ID, DisplayName: p.DisplayName})
	}
	return out
}

func (s *sessionImpl) VersionVector() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.VersionVector()
}

func (s *sessionImpl) Diff(vector []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Diff(vector)
}

func (s *sessionImpl) MergeAndBroadcast(from ConnID, update []byte, frame Frame) (PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied, err := s.state.ApplyUpdate(update)
	if err != nil {
		return PublishResult{}, err
	}
	if applied == 0 {
		// Nothing new; siblings already have these ops.
		return PublishResult{}, nil
	}
	return s.broadcastLocked(from, frame), nil
}

func (s *sessionImpl) SetAwareness(from ConnID, state []byte, frame Frame) PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awareness[from] = state
	return s.broadcastLocked(from, frame)
}

func (s *sessionImpl) ClearAwareness(from ConnID, frame Frame) PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.awareness[from]; !ok {
		return PublishResult{}
	}
	delete(s.awareness, from)
	return s.broadcastLocked(from, frame)
}

func (s *sessionImpl) Awareness() map[ConnID][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ConnID][]byte, len(s.awareness))
	for id, state := range s.awareness {
		out[id] = append([]byte(nil), state...)
	}
	return out
}

func (s *sessionImpl) Broadcast(from ConnID, frame Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcastLocked(from, frame)
}

// broadcastLocked fans frame out to every member except from. Callers
// hold s.mu in at least read mode. Sends are non-blocking: a member
// whose queue is full lands in Dropped for the hub's policy to judge.
func (s *sessionImpl) broadcastLocked(from ConnID, frame Frame) PublishResult {
	res := PublishResult{}
	for id, ps := range s.byConn {
		if id == from {
			continue
		}
		if err := ps.Conn().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, ps)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.session").Str("session", string(s.name)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
