package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestWSHandler_StreamsFramesToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	b := NewBus(logger.Discard())

	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		// Stand-in for auth.RequireAccessToken.
		c.Set("user_id", c.Query("as"))
		c.Next()
	}, WSHandler{Bus: b}.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?as=bob"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount("bob") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(context.Background(), session("s1", calls.StatusPending), calls.ChangeInsert)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != FrameSessionChanged || f.Change != calls.ChangeInsert || f.Session.ID != "s1" {
		t.Fatalf("unexpected frame %+v", f)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for b.SubscriberCount("bob") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHandler_RequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events", WSHandler{Bus: NewBus(logger.Discard())}.Handle)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events", nil)
	r.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
