package callclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"call-signaling/internal/notify"
	"call-signaling/pkg/logger"

	"github.com/gorilla/websocket"
)

// Subscriber is the client end of GET /events. Open it on login, Close it on
// logout; Events closes when the connection ends.
type Subscriber struct {
	conn   *websocket.Conn
	events chan notify.SessionChanged
	log    *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// Dial connects to {baseURL}/events. baseURL may be http(s) or ws(s).
func Dial(ctx context.Context, baseURL, accessToken string, log *slog.Logger) (*Subscriber, error) {
	u := strings.TrimRight(baseURL, "/") + "/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("callclient: subscribe: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("callclient: subscribe: %w", err)
	}

	s := &Subscriber{
		conn:   conn,
		events: make(chan notify.SessionChanged, notify.DefaultBuffer),
		log:    logger.Component(log, "subscriber"),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) Events() <-chan notify.SessionChanged { return s.events }

// Close is safe to call more than once.
func (s *Subscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"))
		err = s.conn.Close()
	})
	return err
}

func (s *Subscriber) readLoop() {
	defer close(s.events)
	for {
		var f notify.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("event stream closed", "err", err)
			}
			return
		}
		if f.Type != notify.FrameSessionChanged {
			continue
		}
		select {
		case s.events <- notify.SessionChanged{Session: f.Session, Change: f.Change}:
		case <-s.done:
			return
		}
	}
}
