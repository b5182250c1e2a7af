package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/affinityd/internal/heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API binds to loopback by default; browsers on other origins are
	// not expected
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HeartbeatMessage is pushed to websocket clients on every new heartbeat.
type HeartbeatMessage struct {
	Type   string     `json:"type"`
	Status StatusResp `json:"status"`
}

func (r *Router) handleHeartbeats(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "client", c.ClientIP(), "error", err)
		return
	}
	slog.Debug("Heartbeat stream opened", "client", c.ClientIP())

	sub := r.ch.Subscribe()
	ctx, cancel := context.WithCancel(r.ctx)
	go r.readPump(ws, cancel)
	r.writePump(ctx, ws, sub)

	sub.Close()
	cancel()
	_ = ws.Close()
	slog.Debug("Heartbeat stream closed", "client", c.ClientIP())
}

// readPump discards client frames and cancels the stream once the peer
// goes away.
func (r *Router) readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Websocket read error", "error", err)
			}
			return
		}
	}
}

func (r *Router) writePump(ctx context.Context, ws *websocket.Conn, sub *heartbeat.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// the current value goes out immediately
	if hb, ok := sub.Next(); ok && !r.send(ws, hb) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sub.C():
			hb, ok := sub.Next()
			if !ok {
				continue
			}
			if !r.send(ws, hb) {
				return
			}
		}
	}
}

func (r *Router) send(ws *websocket.Conn, hb heartbeat.Heartbeat) bool {
	msg := HeartbeatMessage{Type: "heartbeat", Status: statusOf(&hb, r.now())}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(msg); err != nil {
		slog.Debug("Websocket write failed", "error", err)
		return false
	}
	return true
}
