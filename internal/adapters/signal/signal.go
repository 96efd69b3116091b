package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/adapters/rtc"
	"github.com/spacehost/spacehost/internal/app"
	"github.com/spacehost/spacehost/internal/config"
	"github.com/spacehost/spacehost/internal/core"
	"github.com/spacehost/spacehost/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller bridges websocket connections to the Players orchestrator.
type Controller struct {
	Players *app.Players
	Media   *rtc.Engine
	Limiter *MessageRateLimiter

	readLimit  int64
	pingPeriod time.Duration
}

func NewController(players *app.Players, media *rtc.Engine, cfg *config.Config) *Controller {
	return &Controller{
		Players:    players,
		Media:      media,
		Limiter:    NewMessageRateLimiter(cfg.MessageBurst, cfg.MessageRate),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

// session is the adapter-side state of one connection. It is touched only
// by that connection's read pump, so it needs no lock.
type session struct {
	sid      core.SessionID
	playerID domain.PlayerID
	conn     *WsSignalConn

	producerTr *rtc.Transport
	consumerTr *rtc.Transport
}

// WsSignalConn adapts a gorilla websocket to core.SignalConn with a
// buffered send channel drained by the write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
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

func (c *WsSignalConn) Close() {
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

// HandleSignal upgrades the request and runs the connection until it
// closes. Each connection gets a fresh session id; the cookie token only
// scopes the HTTP session.
func (ctl *Controller) HandleSignal(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	playerID, err := ctl.Players.AddPlayer(sid, conn)
	if err != nil {
		// Pool exhausted: the connection is not admitted.
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(time.Second),
		)
		_ = ws.Close()
		return
	}

	sess := &session{sid: sid, playerID: playerID, conn: conn}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Uint8("player_id", uint8(playerID)).Msg("new WS connection")

	go ctl.writePump(conn)
	ctl.readPump(sess)
}

func (ctl *Controller) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(sess *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump closing")
		sess.conn.Close()
		ctl.Players.RemovePlayer(sess.sid)
		ctl.Limiter.Forget(sess.playerID)
	}()

	for {
		_, data, err := sess.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump read error")
			}
			return
		}
		ctl.dispatch(sess, data)
	}
}
