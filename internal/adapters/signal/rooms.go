package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/app"
	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// roomPayload covers every room operation; unused fields stay zero.
type roomPayload struct {
	ID              int64                     `json:"id"`
	RoomID          domain.RoomID             `json:"roomId"`
	Name            string                    `json:"name"`
	Direction       domain.TransportDirection `json:"direction"`
	TransportID     string                    `json:"transportId"`
	DTLSParameters  json.RawMessage           `json:"dtlsParameters"`
	Kind            domain.MediaKind          `json:"kind"`
	RTPParameters   json.RawMessage           `json:"rtpParameters"`
	ProducerID      string                    `json:"producerId"`
	RTPCapabilities json.RawMessage           `json:"rtpCapabilities"`
	ConsumerID      string                    `json:"consumerId"`
}

type roomAck struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
	Participants    []app.RoomPeer  `json:"participants,omitempty"`
	TransportInfo   any             `json:"transport,omitempty"`
	ProducerID      string          `json:"producerId,omitempty"`
	ConsumerInfo    any             `json:"consumer,omitempty"`
}

func (ctl *Controller) ackErr(conn *wsSignalConn, id int64, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, core.ErrNotFound):
		msg = "not found"
	case errors.Is(err, core.ErrCannotConsume):
		msg = "cannot consume this producer"
	}
	var engineErr *core.EngineError
	if errors.As(err, &engineErr) {
		msg = "media engine failure"
	}
	log.Warn().Err(err).Str("module", "signal").Int64("req", id).Msg("room op failed")
	ctl.sendJSON(conn, roomAck{Type: "response", ID: id, Success: false, Error: msg})
}

func (ctl *Controller) handleJoinRoom(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte, kind domain.RoomKind) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(conn, "bad_payload", "invalid join payload")
		return
	}
	res, err := ctl.Orch.Rooms.Join(ctx, sid, p.Name, p.RoomID, kind)
	if err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{
		Type:            "response",
		ID:              p.ID,
		Success:         true,
		RTPCapabilities: res.RTPCapabilities,
		Participants:    res.Participants,
	})
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(conn, "bad_payload", "invalid transport payload")
		return
	}
	if p.Direction != domain.TransportSend && p.Direction != domain.TransportRecv {
		ctl.ackErr(conn, p.ID, errors.New("bad direction"))
		return
	}
	info, err := ctl.Orch.Rooms.CreateTransport(ctx, sid, p.RoomID, p.Direction)
	if err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true, TransportInfo: info})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		ctl.sendError(conn, "bad_payload", "invalid connect payload")
		return
	}
	if err := ctl.Orch.Rooms.ConnectTransport(ctx, sid, p.RoomID, p.TransportID, p.DTLSParameters); err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true})
}

func (ctl *Controller) handleProduce(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		ctl.sendError(conn, "bad_payload", "invalid produce payload")
		return
	}
	if p.Kind != domain.MediaAudio && p.Kind != domain.MediaVideo {
		ctl.ackErr(conn, p.ID, errors.New("bad media kind"))
		return
	}
	producerID, err := ctl.Orch.Rooms.Produce(ctx, sid, p.RoomID, p.TransportID, p.Kind, p.RTPParameters)
	if err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true, ProducerID: producerID})
}

func (ctl *Controller) handleConsume(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || p.ProducerID == "" {
		ctl.sendError(conn, "bad_payload", "invalid consume payload")
		return
	}
	info, err := ctl.Orch.Rooms.Consume(ctx, sid, p.RoomID, p.TransportID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true, ConsumerInfo: info})
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		ctl.sendError(conn, "bad_payload", "invalid resume payload")
		return
	}
	if err := ctl.Orch.Rooms.ResumeConsumer(ctx, sid, p.RoomID, p.ConsumerID); err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true})
}

func (ctl *Controller) handlePauseProducer(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.sendError(conn, "bad_payload", "invalid pause payload")
		return
	}
	if err := ctl.Orch.Rooms.PauseProducer(ctx, sid, p.RoomID, p.ProducerID); err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true})
}

func (ctl *Controller) handleResumeProducer(ctx context.Context, sid domain.SessionID, conn *wsSignalConn, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		ctl.sendError(conn, "bad_payload", "invalid resume payload")
		return
	}
	if err := ctl.Orch.Rooms.ResumeProducer(ctx, sid, p.RoomID, p.ProducerID); err != nil {
		ctl.ackErr(conn, p.ID, err)
		return
	}
	ctl.sendJSON(conn, roomAck{Type: "response", ID: p.ID, Success: true})
}

func (ctl *Controller) handleLeaveRoom(sid domain.SessionID, data []byte) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	ctl.Orch.Rooms.Leave(sid, p.RoomID)
}
