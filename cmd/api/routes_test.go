package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/notify"
	"call-signaling/internal/profiles"
	"call-signaling/internal/rooms"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

func TestRoutes_EndIsNeverRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "routes"})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	dir := profiles.NewMemoryDirectory(
		profiles.Profile{ID: "alice", DisplayName: "Alice"},
		profiles.Profile{ID: "bob", DisplayName: "Bob"},
	)
	svc := calls.NewService(calls.NewMemoryRepo(), rooms.NewMockGateway(nil), dir, calls.Options{Logger: logger.Discard()})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimiterConfig{PerMinute: 1, Burst: 1})
	defer limiter.Stop()

	r := gin.New()
	registerRoutes(r, routeDeps{
		Auth:   auth.RequireAccessToken(m),
		Limit:  limiter.Middleware(),
		Calls:  httpapi.Handlers{Calls: svc},
		Events: notify.WSHandler{Bus: notify.NewBus(logger.Discard())},
	})

	tok, err := m.IssueAccess(time.Now(), "alice", "")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	do := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("/create", `{"receiver_id":"bob"}`); code != http.StatusOK {
		t.Fatalf("first create: %d", code)
	}
	if code := do("/create", `{"receiver_id":"bob"}`); code != http.StatusTooManyRequests {
		t.Fatalf("expected create throttled, got %d", code)
	}
	for i := 0; i < 5; i++ {
		if code := do("/end/missing", ""); code == http.StatusTooManyRequests {
			t.Fatalf("end throttled on attempt %d", i+1)
		}
	}
}
