package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

func (ctl *Controller) handleViewerReady(sid domain.SessionID, conn *wsSignalConn) {
	state := ctl.Orch.Share.State()
	if !state.Active {
		ctl.sendError(conn, "no_host", "nobody is sharing")
		return
	}
	if err := ctl.Orch.Relay.ViewerReady(sid, state.HostID); err != nil {
		ctl.sendError(conn, "host_gone", "host disconnected")
	}
}

type relayPayload struct {
	To        domain.SessionID `json:"to"`
	Offer     json.RawMessage  `json:"offer"`
	Answer    json.RawMessage  `json:"answer"`
	Candidate json.RawMessage  `json:"candidate"`
}

func (ctl *Controller) handleWebRTCOffer(sid domain.SessionID, data []byte) {
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	if err := ctl.Orch.Relay.Offer(sid, p.To, p.Offer); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", p.To.Short()).Msg("relay offer")
	}
}

func (ctl *Controller) handleWebRTCAnswer(sid domain.SessionID, data []byte) {
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	if err := ctl.Orch.Relay.Answer(sid, p.To, p.Answer); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", p.To.Short()).Msg("relay answer")
	}
}

func (ctl *Controller) handleWebRTCCandidate(sid domain.SessionID, data []byte) {
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return
	}
	_ = ctl.Orch.Relay.Candidate(sid, p.To, p.Candidate)
}

func (ctl *Controller) handleWebRTCConnected(sid domain.SessionID, data []byte) {
	var p struct {
		PeerID domain.SessionID `json:"peerId"`
		IsHost bool             `json:"isHost"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.PeerID == "" {
		return
	}
	ctl.Orch.Relay.Connected(sid, p.PeerID, p.IsHost)
}

func (ctl *Controller) handleWebRTCError(sid domain.SessionID, data []byte) {
	var p struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Orch.Relay.Failed(sid, p.Reason)
}
