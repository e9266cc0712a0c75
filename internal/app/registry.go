package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/colabhq/syncrelay/internal/core"
	"github.com/colabhq/syncrelay/internal/domain"
	"github.com/colabhq/syncrelay/internal/metrics"
)

type sessionEntry struct {
	svc   core.SessionService
	evict *time.Timer
}

// Registry implements core.SessionFactory. A session exists while at
// least one connection is attached, or within the grace window after
// the last detach; the window lets a rapid reconnect resume the same
// document instead of starting empty. grace == 0 evicts immediately.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionName]*sessionEntry
	grace    time.Duration
}

func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		sessions: make(map[domain.SessionName]*sessionEntry),
		grace:    grace,
	}
}

// Join resolves the session and attaches the connection under the
// registry lock. The attach cannot race a last-member detach: either
// the detach ran first and Join builds a fresh session, or the attach
// lands first and the detach sees a non-empty session.
func (r *Registry) Join(name domain.SessionName, id core.ConnID, ps core.PeerSession) core.SessionService {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[name]
	if !ok {
		e = &sessionEntry{svc: core.NewSessionService(name)}
		r.sessions[name] = e
		metrics.SessionsLive.Inc()
		log.Info().Str("module", "app.registry").Str("session", string(name)).Msg("session created")
	} else if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	e.svc.Attach(id, ps)
	return e.svc
}

// GetOrCreate is the lookup half of Join, for callers that do not
// attach (inspection, tests). Connection setup must go through Join.
func (r *Registry) GetOrCreate(name domain.SessionName) core.SessionService {
	r.mu.RLock()
	e, ok := r.sessions[name]
	pending := ok && e.evict != nil
	r.mu.RUnlock()
	if ok && !pending {
		return e.svc
	}

	// Either the session is missing or its eviction is pending; both
	// need the write lock so the timer cannot race the return value.
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.sessions[name]; ok {
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
		}
		return e.svc
	}
	e = &sessionEntry{svc: core.NewSessionService(name)}
	r.sessions[name] = e
	metrics.SessionsLive.Inc()
	log.Info().Str("module", "app.registry").Str("session", string(name)).Msg("session created")
	return e.svc
}

// Detach removes the connection from its session and schedules
// eviction when the session emptied.
func (r *Registry) Detach(name domain.SessionName, id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[name]
	if !ok {
		return
	}
	if remaining := e.svc.Detach(id); remaining > 0 {
		return
	}
	if r.grace <= 0 {
		r.evictLocked(name)
		return
	}
	if e.evict != nil {
		e.evict.Stop()
	}
	e.evict = time.AfterFunc(r.grace, func() { r.evictIfEmpty(name) })
	log.Info().Str("module", "app.registry").Str("session", string(name)).Dur("grace", r.grace).Msg("session empty, eviction scheduled")
}

func (r *Registry) evictIfEmpty(name domain.SessionName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[name]
	if !ok || e.svc.MemberCount() > 0 {
		return
	}
	r.evictLocked(name)
}

func (r *Registry) evictLocked(name domain.SessionName) {
	if e, ok := r.sessions[name]; ok {
		if e.evict != nil {
			e.evict.Stop()
		}
		delete(r.sessions, name)
		metrics.SessionsLive.Dec()
		log.Info().Str("module", "app.registry").Str("session", string(name)).Msg("session evicted")
	}
}

func (r *Registry) List() []core.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionInfo, 0, len(r.sessions))
	for name, e := range r.sessions {
		out = append(out, core.SessionInfo{Name: name, MemberCount: e.svc.MemberCount()})
	}
	return out
}

// Shutdown drops every session. Attached connections are the
// adapter's problem; document state is gone by design.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.sessions {
		if e.evict != nil {
			e.evict.Stop()
		}
		delete(r.sessions, name)
		metrics.SessionsLive.Dec()
	}
	log.Info().Str("module", "app.registry").Msg("registry shut down")
}
