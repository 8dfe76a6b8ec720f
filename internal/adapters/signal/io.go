package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

const writeDeadline = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid domain.SessionID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid.Short()).Msg("readPump closing")
		c.Close()
		ctl.Orch.OnDisconnect(sid)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", sid.Short()).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *Controller) handleSignal(ctx context.Context, sid domain.SessionID, c *wsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "register":
		ctl.handleRegister(sid, c, data)

	// screen-share arbitration and handshake
	case "request-share":
		ctl.handleRequestShare(sid, c)
	case "share-started":
		ctl.handleShareStarted(sid, c, data)
	case "stop-share":
		ctl.Orch.Share.StopShare(sid)
	case "send-share-request":
		ctl.handleSendShareRequest(sid, c, data)
	case "accept-share-request":
		ctl.handleAcceptShareRequest(sid, c, data)
	case "deny-share-request":
		ctl.handleDenyShareRequest(sid, data)

	// screen-share negotiation relay
	case "viewer-ready":
		ctl.handleViewerReady(sid, c)
	case "webrtc-offer":
		ctl.handleWebRTCOffer(sid, data)
	case "webrtc-answer":
		ctl.handleWebRTCAnswer(sid, data)
	case "webrtc-ice":
		ctl.handleWebRTCCandidate(sid, data)
	case "webrtc-connected":
		ctl.handleWebRTCConnected(sid, data)
	case "webrtc-error":
		ctl.handleWebRTCError(sid, data)

	// two-party calls
	case "p2p-call-request":
		ctl.handleCallRequest(sid, c, data)
	case "p2p-call-accept":
		ctl.handleCallAccept(sid, c, data)
	case "p2p-call-reject":
		ctl.handleCallReject(sid, data)
	case "p2p-call-end":
		ctl.handleCallEnd(sid, data)
	case "p2p-call-offer":
		ctl.handleCallOffer(sid, data)
	case "p2p-call-answer":
		ctl.handleCallAnswer(sid, data)
	case "p2p-call-ice-candidate":
		ctl.handleCallCandidate(sid, data)

	// SFU rooms, one event family per room kind
	case "join-video-room":
		ctl.handleJoinRoom(ctx, sid, c, data, domain.RoomVideoKind)
	case "join-audio-room":
		ctl.handleJoinRoom(ctx, sid, c, data, domain.RoomAudioKind)
	case "create-video-transport", "create-audio-transport":
		ctl.handleCreateTransport(ctx, sid, c, data)
	case "connect-video-transport", "connect-audio-transport":
		ctl.handleConnectTransport(ctx, sid, c, data)
	case "produce-video", "produce-audio":
		ctl.handleProduce(ctx, sid, c, data)
	case "consume-video", "consume-audio":
		ctl.handleConsume(ctx, sid, c, data)
	case "resume-video-consumer", "resume-audio-consumer":
		ctl.handleResumeConsumer(ctx, sid, c, data)
	case "pause-video-producer", "pause-audio-producer":
		ctl.handlePauseProducer(ctx, sid, c, data)
	case "resume-video-producer", "resume-audio-producer":
		ctl.handleResumeProducer(ctx, sid, c, data)
	case "leave-video-room", "leave-audio-room":
		ctl.handleLeaveRoom(sid, data)

	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsSignalConn, reason, message string) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}{"error", reason, message})
}
