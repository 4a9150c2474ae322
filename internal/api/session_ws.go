package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docrelay/internal/auth"
	"docrelay/internal/models"
)

const (
	wsReadLimit    = 4 << 10
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

type clientFrame struct {
	Type models.EventType `json:"type"`
}

// sessionWS carries activity signals from the page and pushes session_ended
// when the session is logged out or expires.
func (h *Handler) sessionWS(c *gin.Context) {
	token := auth.ExtractToken(c)
	ctx := c.Request.Context()
	session, err := h.auth.Validate(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	// Subscribe before upgrading so an end racing the handshake is still delivered.
	events, stop := h.auth.Watch(session.ID)
	defer stop()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	h.metrics.WSMessage("outbound", "connected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var frame clientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			h.metrics.WSMessage("inbound", string(frame.Type))
			if frame.Type == models.EventActivity {
				_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
				if err := h.auth.Touch(ctx, session.ID); err != nil {
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			h.metrics.WSMessage("outbound", string(ev.Type))
			if ev.Type == models.EventSessionEnded {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Reason),
					time.Now().Add(wsWriteWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// checkOrigin accepts same-host origins and the configured public base URL.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return h.allowOrigin != "*" && strings.EqualFold(h.allowOrigin, originOf(origin))
}
