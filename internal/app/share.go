package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// Stop reasons tagged on the host-stopped-sharing broadcast. A voluntary
// stop carries no reason.
const (
	stopReasonDisconnect = "disconnect"
	stopReasonTransfer   = "transfer"
)

type shareApproval struct {
	token     string
	expiresAt time.Time
}

// ShareCoordinator owns the single "who is presenting" slot and the
// request/transfer handshake layered on top of it. All mutation funnels
// through it.
//
// Claiming the slot is two-phased: RequestShare hands out an approval,
// ConfirmStarted consumes it and transitions the slot. Client-side
// screen capture happens between the two, so the slot is never blocked
// by a broadcaster that failed to capture.
type ShareCoordinator struct {
	reg *Registry

	mu        sync.Mutex
	active    bool
	hostID    domain.SessionID
	hostName  string
	approvals map[domain.SessionID]*shareApproval
	requests  map[string]*domain.ShareRequest
	timers    map[string]*time.Timer

	approvalTTL time.Duration
	requestTTL  time.Duration
}

func NewShareCoordinator(reg *Registry, approvalTTL, requestTTL time.Duration) *ShareCoordinator {
	return &ShareCoordinator{
		reg:         reg,
		approvals:   make(map[domain.SessionID]*shareApproval),
		requests:    make(map[string]*domain.ShareRequest),
		timers:      make(map[string]*time.Timer),
		approvalTTL: approvalTTL,
		requestTTL:  requestTTL,
	}
}

// State returns a snapshot of the slot for the initial-state push.
func (s *ShareCoordinator) State() domain.ShareState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ShareState{Active: s.active, HostID: s.hostID, HostName: s.hostName}
}

// RequestShare asks for an approval to claim the slot. It does not
// transition state: the slot is not pre-reserved. Returns the number of
// other connected participants, mirroring what the approved client
// needs to know.
func (s *ShareCoordinator) RequestShare(sid domain.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.hostID != sid {
		log.Info().Str("module", "app.share").Str("sid", sid.Short()).Str("host", s.hostName).Msg("share blocked")
		return 0, &core.BlockedError{CurrentHost: s.hostName}
	}
	s.grantLocked(sid)
	log.Info().Str("module", "app.share").Str("sid", sid.Short()).Msg("share approved")
	return s.reg.Count() - 1, nil
}

func (s *ShareCoordinator) grantLocked(sid domain.SessionID) {
	s.approvals[sid] = &shareApproval{
		token:     uuid.NewString(),
		expiresAt: time.Now().Add(s.approvalTTL),
	}
}

// ConfirmStarted consumes a live approval and transitions the slot to
// active, or refreshes the host name when the caller already holds it.
// A confirmation without a live approval cannot resurrect a released
// slot and fails with NotFound.
func (s *ShareCoordinator) ConfirmStarted(sid domain.SessionID, name string) error {
	s.mu.Lock()
	if name == "" {
		name = s.reg.Name(sid)
	}
	if !s.active || s.hostID != sid {
		appr, ok := s.approvals[sid]
		if !ok || time.Now().After(appr.expiresAt) {
			delete(s.approvals, sid)
			s.mu.Unlock()
			return core.ErrNotFound
		}
	}
	delete(s.approvals, sid)
	s.active = true
	s.hostID = sid
	s.hostName = name
	s.mu.Unlock()

	log.Info().Str("module", "app.share").Str("sid", sid.Short()).Str("name", name).Msg("share started")
	s.reg.BroadcastExcept(sid, struct {
		Type     string           `json:"type"`
		HostName string           `json:"hostName"`
		HostID   domain.SessionID `json:"hostId"`
	}{"host-started-sharing", name, sid})
	return nil
}

// StopShare releases the slot. No-op unless sid is the current host.
func (s *ShareCoordinator) StopShare(sid domain.SessionID) {
	s.stop(sid, "")
}

func (s *ShareCoordinator) stop(sid domain.SessionID, reason string) {
	s.mu.Lock()
	if !s.active || s.hostID != sid {
		s.mu.Unlock()
		return
	}
	previous := s.hostName
	s.active = false
	s.hostID = ""
	s.hostName = ""
	s.mu.Unlock()

	log.Info().Str("module", "app.share").Str("host", previous).Str("reason", reason).Msg("share stopped")
	s.reg.Broadcast(struct {
		Type         string `json:"type"`
		Message      string `json:"message"`
		PreviousHost string `json:"previousHost"`
		Reason       string `json:"reason,omitempty"`
	}{"host-stopped-sharing", previous + " stopped sharing", previous, reason})
}

// SendRequest creates a handshake request against the current host and
// notifies them. The request auto-expires after the configured TTL.
func (s *ShareCoordinator) SendRequest(requester domain.SessionID, requesterName string, target domain.SessionID) error {
	if _, ok := s.reg.Get(target); !ok {
		return core.ErrPeerNotFound
	}
	if requesterName == "" {
		requesterName = s.reg.Name(requester)
	}

	s.mu.Lock()
	if !s.active || s.hostID != target {
		s.mu.Unlock()
		return core.ErrPeerNotFound
	}
	req := &domain.ShareRequest{
		ID:            uuid.NewString(),
		RequesterID:   requester,
		RequesterName: requesterName,
		TargetHostID:  target,
		CreatedAt:     time.Now(),
	}
	s.requests[req.ID] = req
	s.timers[req.ID] = time.AfterFunc(s.requestTTL, func() { s.expireRequest(req.ID) })
	s.mu.Unlock()

	log.Info().Str("module", "app.share").Str("requester", requesterName).Str("host", target.Short()).Msg("share request sent")
	s.reg.SendTo(target, struct {
		Type          string           `json:"type"`
		RequestID     string           `json:"requestId"`
		RequesterID   domain.SessionID `json:"requesterId"`
		RequesterName string           `json:"requesterName"`
	}{"share-request-received", req.ID, requester, requesterName})
	return nil
}

func (s *ShareCoordinator) expireRequest(id string) {
	s.mu.Lock()
	req, ok := s.requests[id]
	if ok {
		s.dropRequestLocked(id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "app.share").Str("request", id).Msg("share request expired")
	s.notifyDenied(req.RequesterID)
}

// dropRequestLocked removes the request and its timer; must hold mu.
func (s *ShareCoordinator) dropRequestLocked(id string) {
	delete(s.requests, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Accept hands the slot over: force-stop the current host (reason
// "transfer") so the slot is guaranteed free, then grant the requester
// an approval and notify them. First committer wins; a racing Accept
// observes the request gone and gets NotFound.
func (s *ShareCoordinator) Accept(host domain.SessionID, requestID string) (domain.SessionID, error) {
	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return "", core.ErrNotFound
	}
	if req.TargetHostID != host || !s.active || s.hostID != host {
		s.mu.Unlock()
		return "", core.ErrUnauthorized
	}
	s.dropRequestLocked(requestID)
	s.mu.Unlock()

	s.stop(host, stopReasonTransfer)

	s.mu.Lock()
	s.grantLocked(req.RequesterID)
	s.mu.Unlock()

	log.Info().Str("module", "app.share").Str("requester", req.RequesterName).Msg("share request accepted")
	s.reg.SendTo(req.RequesterID, struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}{"share-request-accepted", requestID})
	return req.RequesterID, nil
}

// Deny refuses a pending request. Callers that are not the addressed
// host are silently ignored.
func (s *ShareCoordinator) Deny(host domain.SessionID, requestID string) {
	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok || req.TargetHostID != host {
		s.mu.Unlock()
		return
	}
	s.dropRequestLocked(requestID)
	s.mu.Unlock()

	log.Info().Str("module", "app.share").Str("requester", req.RequesterName).Msg("share request denied")
	s.notifyDenied(req.RequesterID)
}

func (s *ShareCoordinator) notifyDenied(requester domain.SessionID) {
	s.reg.SendTo(requester, struct {
		Type string `json:"type"`
	}{"share-request-denied"})
}

// OnDisconnect releases everything sid participates in: the slot when
// they host it, their approval, and any handshake requests from or to
// them. Requests targeting a vanished host are denied to the requester.
func (s *ShareCoordinator) OnDisconnect(sid domain.SessionID) {
	s.mu.Lock()
	delete(s.approvals, sid)
	var denied []domain.SessionID
	for id, req := range s.requests {
		switch sid {
		case req.RequesterID:
			s.dropRequestLocked(id)
		case req.TargetHostID:
			s.dropRequestLocked(id)
			denied = append(denied, req.RequesterID)
		}
	}
	s.mu.Unlock()

	for _, requester := range denied {
		s.notifyDenied(requester)
	}
	s.stop(sid, stopReasonDisconnect)
}
