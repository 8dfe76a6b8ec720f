package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

type linkStatus string

const (
	linkPending   linkStatus = "pending"
	linkOfferSent linkStatus = "offer-sent"
	linkAnswered  linkStatus = "answer-sent"
	linkConnected linkStatus = "connected"
)

// link tracks coarse negotiation progress for one (source, target)
// pair. Diagnostic only: it is never authoritative and its absence
// never blocks relay.
type link struct {
	hostID     domain.SessionID
	viewerID   domain.SessionID
	status     linkStatus
	createdAt  time.Time
	iceStarted bool
}

// Relay is a stateless store-and-forward for negotiation payloads
// between two connection identities, plus the best-effort progress map.
type Relay struct {
	reg *Registry

	mu    sync.Mutex
	links map[string]*link
}

func NewRelay(reg *Registry) *Relay {
	return &Relay{reg: reg, links: make(map[string]*link)}
}

func linkKey(src, dst domain.SessionID) string {
	return string(src) + "-" + string(dst)
}

// ViewerReady notifies the host that a viewer wants their stream and
// starts tracking the pair.
func (r *Relay) ViewerReady(viewer domain.SessionID, host domain.SessionID) error {
	if _, ok := r.reg.Get(host); !ok {
		return core.ErrPeerNotFound
	}
	viewerName := r.reg.Name(viewer)

	r.mu.Lock()
	r.links[linkKey(host, viewer)] = &link{
		hostID:    host,
		viewerID:  viewer,
		status:    linkPending,
		createdAt: time.Now(),
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.relay").Str("viewer", viewerName).Str("host", host.Short()).Msg("viewer ready")
	r.reg.SendTo(host, struct {
		Type       string           `json:"type"`
		ViewerID   domain.SessionID `json:"viewerId"`
		ViewerName string           `json:"viewerName"`
	}{"viewer-joined", viewer, viewerName})
	return nil
}

// Offer forwards an SDP offer to the target, re-tagged with the source.
func (r *Relay) Offer(from, to domain.SessionID, offer json.RawMessage) error {
	if !r.reg.SendTo(to, struct {
		Type  string           `json:"type"`
		Offer json.RawMessage  `json:"offer"`
		From  domain.SessionID `json:"from"`
	}{"webrtc-offer", offer, from}) {
		return core.ErrPeerNotFound
	}
	r.mark(linkKey(from, to), linkOfferSent)
	return nil
}

// Answer forwards an SDP answer. The originating pair was keyed by the
// host side, so the progress entry lives under (to, from).
func (r *Relay) Answer(from, to domain.SessionID, answer json.RawMessage) error {
	if !r.reg.SendTo(to, struct {
		Type   string           `json:"type"`
		Answer json.RawMessage  `json:"answer"`
		From   domain.SessionID `json:"from"`
	}{"webrtc-answer", answer, from}) {
		return core.ErrPeerNotFound
	}
	r.mark(linkKey(to, from), linkAnswered)
	return nil
}

// Candidate forwards an ICE candidate. Only the first candidate per
// pair is logged.
func (r *Relay) Candidate(from, to domain.SessionID, candidate json.RawMessage) error {
	if !r.reg.SendTo(to, struct {
		Type      string           `json:"type"`
		Candidate json.RawMessage  `json:"candidate"`
		From      domain.SessionID `json:"from"`
	}{"webrtc-ice", candidate, from}) {
		return core.ErrPeerNotFound
	}
	r.mu.Lock()
	if l, ok := r.links[linkKey(from, to)]; ok && !l.iceStarted {
		l.iceStarted = true
		log.Debug().Str("module", "app.relay").Str("pair", linkKey(from, to)).Msg("ice exchange started")
	}
	r.mu.Unlock()
	return nil
}

// Connected records a client-reported established connection between
// sid and peer. Informational only.
func (r *Relay) Connected(sid, peer domain.SessionID, sidIsHost bool) {
	key := linkKey(sid, peer)
	if !sidIsHost {
		key = linkKey(peer, sid)
	}
	r.mu.Lock()
	l, ok := r.links[key]
	if ok {
		l.status = linkConnected
	}
	r.mu.Unlock()
	if ok {
		log.Info().Str("module", "app.relay").Str("pair", key).Dur("setup", time.Since(l.createdAt)).Msg("webrtc connected")
	}
}

// Failed clears every progress entry involving sid after a
// client-reported negotiation error.
func (r *Relay) Failed(sid domain.SessionID, reason string) {
	log.Warn().Str("module", "app.relay").Str("sid", sid.Short()).Str("reason", reason).Msg("webrtc error reported")
	r.clear(sid)
}

func (r *Relay) OnDisconnect(sid domain.SessionID) {
	r.clear(sid)
}

func (r *Relay) clear(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, l := range r.links {
		if l.hostID == sid || l.viewerID == sid {
			delete(r.links, key)
		}
	}
}

func (r *Relay) mark(key string, status linkStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[key]; ok {
		l.status = status
	}
}

// Progress returns the current status for a (host, viewer) pair, for
// tests and debugging.
func (r *Relay) Progress(host, viewer domain.SessionID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[linkKey(host, viewer)]
	if !ok {
		return "", false
	}
	return string(l.status), true
}

// Dump periodically logs the active progress entries. Visibility only.
func (r *Relay) Dump(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.dumpOnce()
		}
	}
}

func (r *Relay) dumpOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return
	}
	log.Debug().Str("module", "app.relay").Int("count", len(r.links)).Msg("active negotiation pairs")
	for key, l := range r.links {
		log.Debug().Str("module", "app.relay").Str("pair", key).Str("status", string(l.status)).Dur("age", time.Since(l.createdAt)).Msg("pair")
	}
}
