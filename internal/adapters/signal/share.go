package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

func (ctl *Controller) handleRegister(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload", "invalid register payload")
		return
	}
	if err := ctl.Orch.Registry.UpdateName(sid, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name", err.Error())
		return
	}
}

func (ctl *Controller) handleRequestShare(sid domain.SessionID, conn *wsSignalConn) {
	viewers, err := ctl.Orch.Share.RequestShare(sid)
	if err != nil {
		var blocked *core.BlockedError
		if errors.As(err, &blocked) {
			ctl.sendJSON(conn, struct {
				Type        string `json:"type"`
				CurrentHost string `json:"currentHost"`
			}{"share-blocked", blocked.CurrentHost})
			return
		}
		ctl.sendError(conn, "share_failed", err.Error())
		return
	}
	ctl.sendJSON(conn, struct {
		Type        string `json:"type"`
		ViewerCount int    `json:"viewerCount"`
	}{"share-approved", viewers})
}

func (ctl *Controller) handleShareStarted(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload", "invalid share-started payload")
		return
	}
	if err := ctl.Orch.Share.ConfirmStarted(sid, p.Name); err != nil {
		ctl.sendError(conn, "share_not_approved", "no pending share approval")
	}
}

func (ctl *Controller) handleSendShareRequest(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p struct {
		Name         string           `json:"name"`
		TargetHostID domain.SessionID `json:"targetHostId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload", "invalid share request payload")
		return
	}
	// the target is the client's, not the live host: a request aimed at
	// a replaced host must fail rather than land on the successor
	if err := ctl.Orch.Share.SendRequest(sid, p.Name, p.TargetHostID); err != nil {
		ctl.sendJSON(conn, struct {
			Type string `json:"type"`
		}{"share-request-denied"})
	}
}

func (ctl *Controller) handleAcceptShareRequest(sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload", "invalid accept payload")
		return
	}
	if _, err := ctl.Orch.Share.Accept(sid, p.RequestID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("request", p.RequestID).Msg("accept share request")
		ctl.sendError(conn, "request_gone", "share request no longer exists")
	}
}

func (ctl *Controller) handleDenyShareRequest(sid domain.SessionID, data []byte) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Orch.Share.Deny(sid, p.RequestID)
}
