package signal

import (
	"encoding/json"
	"errors"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

type callPayload struct {
	CallID    string           `json:"callId"`
	TargetID  domain.SessionID `json:"targetId"`
	CallType  domain.CallType  `json:"callType"`
	Offer     json.RawMessage  `json:"offer"`
	Answer    json.RawMessage  `json:"answer"`
	Candidate json.RawMessage  `json:"candidate"`
}

func (ctl *Controller) sendCallError(conn *wsSignalConn, reason, message string) {
	ctl.sendJSON(conn, struct {
		Type    string `json:"type"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}{"p2p-call-error", reason, message})
}

func (ctl *Controller) handleCallRequest(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetID == "" {
		ctl.sendCallError(conn, "bad_payload", "invalid call request")
		return
	}
	if p.CallType != domain.CallAudio && p.CallType != domain.CallVideo {
		p.CallType = domain.CallVideo
	}

	call, err := ctl.Orch.Calls.Initiate(sid, p.TargetID, p.CallType)
	if err != nil {
		var busy *core.BusyError
		switch {
		case errors.As(err, &busy):
			ctl.sendCallError(conn, "busy", busy.Name+" is already in a call")
		case errors.Is(err, core.ErrPeerNotFound):
			ctl.sendCallError(conn, "not_found", "that user is no longer connected")
		default:
			ctl.sendCallError(conn, "call_failed", err.Error())
		}
		return
	}

	ctl.sendJSON(conn, struct {
		Type         string           `json:"type"`
		CallID       string           `json:"callId"`
		ReceiverID   domain.SessionID `json:"receiverId"`
		ReceiverName string           `json:"receiverName"`
		CallType     domain.CallType  `json:"callType"`
	}{"p2p-call-initiated", call.ID, call.CalleeID, call.CalleeName, call.Type})
}

func (ctl *Controller) handleCallAccept(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendCallError(conn, "bad_payload", "invalid accept")
		return
	}
	call, err := ctl.Orch.Calls.Accept(sid, p.CallID)
	if err != nil {
		ctl.sendCallError(conn, "call_gone", "call no longer exists")
		return
	}
	// Both sides know; the callee may start negotiating.
	ctl.sendJSON(conn, struct {
		Type       string           `json:"type"`
		CallID     string           `json:"callId"`
		CallerID   domain.SessionID `json:"callerId"`
		CallerName string           `json:"callerName"`
		CallType   domain.CallType  `json:"callType"`
	}{"p2p-call-ready", call.ID, call.CallerID, call.CallerName, call.Type})
}

func (ctl *Controller) handleCallReject(sid domain.SessionID, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return
	}
	ctl.Orch.Calls.Reject(sid, p.CallID)
}

func (ctl *Controller) handleCallEnd(sid domain.SessionID, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return
	}
	ctl.Orch.Calls.End(sid, p.CallID)
}

func (ctl *Controller) handleCallOffer(sid domain.SessionID, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.TargetID == "" {
		return
	}
	ctl.Orch.Calls.RelayOffer(sid, p.CallID, p.TargetID, p.Offer)
}

func (ctl *Controller) handleCallAnswer(sid domain.SessionID, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.TargetID == "" {
		return
	}
	ctl.Orch.Calls.RelayAnswer(sid, p.CallID, p.TargetID, p.Answer)
}

func (ctl *Controller) handleCallCandidate(sid domain.SessionID, data []byte) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.TargetID == "" {
		return
	}
	ctl.Orch.Calls.RelayCandidate(sid, p.CallID, p.TargetID, p.Candidate)
}
