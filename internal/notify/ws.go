package notify

import (
	"log/slog"
	"net/http"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const FrameSessionChanged = "session_changed"

// Frame is the JSON message written to websocket clients.
type Frame struct {
	Type    string            `json:"type"`
	Change  calls.ChangeKind  `json:"change"`
	Session calls.CallSession `json:"session"`
}

// WSHandler serves GET /events. It must run behind auth.RequireAccessToken,
// which sets the caller's user_id on the gin context.
type WSHandler struct {
	Bus *Bus

	// CheckOrigin defaults to allowing every origin; bearer auth gates access.
	CheckOrigin func(r *http.Request) bool

	PingInterval time.Duration
	WriteTimeout time.Duration
	Buffer       int
}

func (h WSHandler) upgrader() websocket.Upgrader {
	check := h.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: check}
}

func (h WSHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.Bus == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notification bus not configured"})
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := h.Bus.Subscribe(userID, h.Buffer)
	log = logger.Component(log, "ws").With("user_id", userID)
	log.Info("subscriber connected")

	h.pump(conn, sub, log)
	log.Info("subscriber disconnected")
}

// pump writes frames until the client goes away. The read side only handles
// control frames and close detection.
func (h WSHandler) pump(conn *websocket.Conn, sub *Subscription, log *slog.Logger) {
	ping := h.PingInterval
	if ping <= 0 {
		ping = 25 * time.Second
	}
	wt := h.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	pongWait := ping * 2

	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read ended", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wt))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wt))
			if err := conn.WriteJSON(Frame{Type: FrameSessionChanged, Change: ev.Change, Session: ev.Session}); err != nil {
				log.Warn("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wt)); err != nil {
				return
			}
		}
	}
}
