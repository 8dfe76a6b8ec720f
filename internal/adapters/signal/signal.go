package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/app"
	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the WebSocket signaling surface: one connection per
// client, upgraded from /api/ws/signal, dispatched by envelope type.
type Controller struct {
	Orch       *app.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(orch *app.Orchestrator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{Orch: orch, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

// TrySend never blocks: a slow client drops frames instead of stalling
// a coordinator broadcast.
func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, binds the session and pushes the
// current coordination snapshot before any other frame.
//
// The session id is minted per connection. The client token cookie is
// browser-scoped: two tabs share it, and coordinators must see them as
// two participants.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.SessionID(uuid.NewString())
	client := domain.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", sid.Short()).Str("client", client.Short()).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	sess := core.NewSession(domain.NewParticipant(sid), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Bind(sid, sess, cancel)

	state := ctl.Orch.Share.State()
	ctl.sendJSON(conn, struct {
		Type           string           `json:"type"`
		IsSharing      bool             `json:"isSharing"`
		HostName       string           `json:"hostName"`
		HostID         domain.SessionID `json:"hostId"`
		IsYouHost      bool             `json:"isYouHost"`
		ConnectedUsers int              `json:"connectedUsers"`
	}{"initial-state", state.Active, state.HostName, state.HostID, state.HostID == sid, ctl.Orch.Registry.Count()})

	ctl.Orch.Registry.Broadcast(struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{"user-count-update", ctl.Orch.Registry.Count()})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
