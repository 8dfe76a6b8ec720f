package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// CallCoordinator is the per-call state machine table for two-party
// calls, independent of share arbitration. Transitions are serialized
// under one lock; ring timeouts are scheduled timers and a periodic
// sweep purges calls stuck in ringing as a backstop against lost
// timers.
type CallCoordinator struct {
	reg *Registry

	mu     sync.Mutex
	calls  map[string]*domain.Call
	timers map[string]*time.Timer

	ringTimeout time.Duration
	staleAfter  time.Duration
}

func NewCallCoordinator(reg *Registry, ringTimeout, staleAfter time.Duration) *CallCoordinator {
	return &CallCoordinator{
		reg:         reg,
		calls:       make(map[string]*domain.Call),
		timers:      make(map[string]*time.Timer),
		ringTimeout: ringTimeout,
		staleAfter:  staleAfter,
	}
}

// Initiate rings the callee. Fails fast, creating no state, when the
// callee is gone or already party to a non-ended call.
func (c *CallCoordinator) Initiate(caller, callee domain.SessionID, callType domain.CallType) (*domain.Call, error) {
	calleeSess, ok := c.reg.Get(callee)
	if !ok {
		return nil, core.ErrPeerNotFound
	}
	calleeName := calleeSess.Meta().Name
	callerName := c.reg.Name(caller)

	c.mu.Lock()
	if c.busyLocked(callee) {
		c.mu.Unlock()
		return nil, &core.BusyError{Name: calleeName}
	}
	call := &domain.Call{
		ID:         "p2pcall_" + uuid.NewString(),
		CallerID:   caller,
		CallerName: callerName,
		CalleeID:   callee,
		CalleeName: calleeName,
		Type:       callType,
		Status:     domain.CallRinging,
		CreatedAt:  time.Now(),
	}
	c.calls[call.ID] = call
	c.timers[call.ID] = time.AfterFunc(c.ringTimeout, func() { c.timeout(call.ID) })
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("caller", callerName).Str("callee", calleeName).Str("type", string(callType)).Msg("call request")
	c.reg.SendTo(callee, struct {
		Type       string           `json:"type"`
		CallID     string           `json:"callId"`
		CallerID   domain.SessionID `json:"callerId"`
		CallerName string           `json:"callerName"`
		CallType   domain.CallType  `json:"callType"`
	}{"p2p-incoming-call", call.ID, caller, callerName, callType})
	return call, nil
}

func (c *CallCoordinator) busyLocked(sid domain.SessionID) bool {
	for _, call := range c.calls {
		if call.Party(sid) && call.Status != domain.CallEnded {
			return true
		}
	}
	return false
}

// Accept moves a ringing call to accepted. Only the addressed callee
// may accept; a second conflicting accept observes the mutated status.
func (c *CallCoordinator) Accept(callee domain.SessionID, callID string) (*domain.Call, error) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return nil, core.ErrNotFound
	}
	if call.CalleeID != callee {
		c.mu.Unlock()
		return nil, core.ErrUnauthorized
	}
	if call.Status != domain.CallRinging {
		c.mu.Unlock()
		return nil, core.ErrConflict
	}
	call.Status = domain.CallAccepted
	c.stopTimerLocked(callID)
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", callID).Str("callee", call.CalleeName).Msg("call accepted")
	c.reg.SendTo(call.CallerID, struct {
		Type         string           `json:"type"`
		CallID       string           `json:"callId"`
		ReceiverID   domain.SessionID `json:"receiverId"`
		ReceiverName string           `json:"receiverName"`
	}{"p2p-call-accepted", callID, callee, call.CalleeName})
	return call, nil
}

// Reject terminates a ringing call from the callee side. Non-parties
// are silently ignored.
func (c *CallCoordinator) Reject(callee domain.SessionID, callID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok || call.CalleeID != callee {
		c.mu.Unlock()
		return
	}
	c.dropLocked(callID)
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", callID).Msg("call rejected")
	c.reg.SendTo(call.CallerID, struct {
		Type         string `json:"type"`
		CallID       string `json:"callId"`
		ReceiverName string `json:"receiverName"`
	}{"p2p-call-rejected", callID, call.CalleeName})
}

// End terminates a call from either party and reports the connected
// duration to the other one (zero when the call never connected).
func (c *CallCoordinator) End(sid domain.SessionID, callID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok || !call.Party(sid) {
		c.mu.Unlock()
		return
	}
	duration := call.Duration(time.Now())
	c.dropLocked(callID)
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", callID).Dur("duration", duration).Msg("call ended")
	c.reg.SendTo(call.Other(sid), struct {
		Type     string `json:"type"`
		CallID   string `json:"callId"`
		EndedBy  string `json:"endedBy"`
		Duration int64  `json:"duration"`
	}{"p2p-call-ended", callID, call.PartyName(sid), duration.Milliseconds()})
}

func (c *CallCoordinator) timeout(callID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok || call.Status != domain.CallRinging {
		c.mu.Unlock()
		return
	}
	c.dropLocked(callID)
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", callID).Msg("call timed out")
	c.reg.SendTo(call.CallerID, struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}{"p2p-call-timeout", callID})
	c.reg.SendTo(call.CalleeID, struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}{"p2p-call-cancelled", callID})
}

// dropLocked removes the call and its ring timer; must hold mu.
func (c *CallCoordinator) dropLocked(callID string) {
	delete(c.calls, callID)
	c.stopTimerLocked(callID)
}

func (c *CallCoordinator) stopTimerLocked(callID string) {
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
}

// RelayOffer forwards a session description between the parties of a
// live call. Relay-only: no state change.
func (c *CallCoordinator) RelayOffer(from domain.SessionID, callID string, target domain.SessionID, offer json.RawMessage) {
	if !c.live(callID, from) {
		return
	}
	c.reg.SendTo(target, struct {
		Type   string           `json:"type"`
		CallID string           `json:"callId"`
		Offer  json.RawMessage  `json:"offer"`
		From   domain.SessionID `json:"from"`
	}{"p2p-call-offer", callID, offer, from})
}

// RelayAnswer forwards an answer; the first answer marks the call
// connected and records connectedAt.
func (c *CallCoordinator) RelayAnswer(from domain.SessionID, callID string, target domain.SessionID, answer json.RawMessage) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok || !call.Party(from) {
		c.mu.Unlock()
		return
	}
	if call.ConnectedAt.IsZero() {
		call.Status = domain.CallConnected
		call.ConnectedAt = time.Now()
		log.Info().Str("module", "app.calls").Str("call", callID).Msg("call connected")
	}
	c.mu.Unlock()

	c.reg.SendTo(target, struct {
		Type   string           `json:"type"`
		CallID string           `json:"callId"`
		Answer json.RawMessage  `json:"answer"`
		From   domain.SessionID `json:"from"`
	}{"p2p-call-answer", callID, answer, from})
}

func (c *CallCoordinator) RelayCandidate(from domain.SessionID, callID string, target domain.SessionID, candidate json.RawMessage) {
	if !c.live(callID, from) {
		return
	}
	c.reg.SendTo(target, struct {
		Type      string           `json:"type"`
		CallID    string           `json:"callId"`
		Candidate json.RawMessage  `json:"candidate"`
		From      domain.SessionID `json:"from"`
	}{"p2p-call-ice-candidate", callID, candidate, from})
}

func (c *CallCoordinator) live(callID string, party domain.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[callID]
	return ok && call.Party(party)
}

// OnDisconnect ends every call sid is party to, notifying the
// counterpart with reason "disconnected".
func (c *CallCoordinator) OnDisconnect(sid domain.SessionID) {
	c.mu.Lock()
	var dropped []*domain.Call
	for id, call := range c.calls {
		if call.Party(sid) {
			dropped = append(dropped, call)
			c.dropLocked(id)
		}
	}
	c.mu.Unlock()

	for _, call := range dropped {
		log.Info().Str("module", "app.calls").Str("call", call.ID).Msg("call ended by disconnect")
		c.reg.SendTo(call.Other(sid), struct {
			Type    string `json:"type"`
			CallID  string `json:"callId"`
			EndedBy string `json:"endedBy"`
			Reason  string `json:"reason"`
		}{"p2p-call-ended", call.ID, call.PartyName(sid), "disconnected"})
	}
}

// Sweep periodically purges calls stuck in ringing longer than the
// stale window. Runs until ctx is cancelled.
func (c *CallCoordinator) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(time.Now())
		}
	}
}

func (c *CallCoordinator) sweepOnce(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, call := range c.calls {
		if call.Status == domain.CallRinging && now.Sub(call.CreatedAt) > c.staleAfter {
			c.dropLocked(id)
			log.Info().Str("module", "app.calls").Str("call", id).Msg("stale ringing call purged")
		}
	}
}
