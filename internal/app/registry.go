package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

type regEntry struct {
	Session core.Session
	Cancel  context.CancelFunc
}

// Registry maps live connection identities to their sessions. It is the
// leaf dependency of every coordinator.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.SessionID]*regEntry)}
}

// Bind registers a new connection. The profile starts with a generated
// placeholder name until the client sends its own.
func (r *Registry) Bind(sid domain.SessionID, sess core.Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &regEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", sid.Short()).Msg("bound session")
}

func (r *Registry) Get(sid domain.SessionID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Name returns the current display name for sid, or a placeholder when
// the connection is gone.
func (r *Registry) Name(sid domain.SessionID) string {
	if sess, ok := r.Get(sid); ok {
		return sess.Meta().Name
	}
	return domain.DefaultName(sid)
}

func (r *Registry) UpdateName(sid domain.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return core.ErrNotFound
	}
	if err := e.Session.Meta().SetName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", sid.Short()).Str("name", name).Msg("updated name")
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Unbind removes the session and fires its connection-scoped context,
// so pumps and timers keyed on it wind down with the connection.
func (r *Registry) Unbind(sid domain.SessionID) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", sid.Short()).Msg("unbound session")
}

type regSnap struct {
	SID     domain.SessionID
	Session core.Session
}

func (r *Registry) snapshot() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, regSnap{SID: sid, Session: e.Session})
	}
	return out
}

// SendTo marshals v and best-effort delivers it to sid. Delivery
// failures are logged, never propagated: there may be no caller left
// to respond to.
func (r *Registry) SendTo(sid domain.SessionID, v any) bool {
	sess, ok := r.Get(sid)
	if !ok {
		return false
	}
	sendJSON(sess.Signal(), v)
	return true
}

// Broadcast delivers v to every connected participant.
func (r *Registry) Broadcast(v any) {
	for _, snap := range r.snapshot() {
		sendJSON(snap.Session.Signal(), v)
	}
}

// BroadcastExcept delivers v to everyone but sid.
func (r *Registry) BroadcastExcept(sid domain.SessionID, v any) {
	for _, snap := range r.snapshot() {
		if snap.SID == sid {
			continue
		}
		sendJSON(snap.Session.Signal(), v)
	}
}

func sendJSON(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("sendJSON marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("sendJSON dropped")
	}
}
