package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/rooms"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls *calls.Service
}

// --- Sessions ---

type createRequest struct {
	ReceiverID string `json:"receiver_id"`
	Kind       string `json:"kind,omitempty"`
	Template   string `json:"template,omitempty"`
	Region     string `json:"region,omitempty"`
}

func (h Handlers) CreateSession(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ReceiverID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "receiver_id required"})
		return
	}

	sess, room, err := h.Calls.CreateSession(c.Request.Context(), calls.CreateRequest{
		InitiatorID: userID,
		ReceiverID:  req.ReceiverID,
		Kind:        calls.Kind(req.Kind),
		TemplateID:  req.Template,
		Region:      req.Region,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "room": room})
}

type tokenRequest struct {
	SessionID string `json:"session_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	Role      string `json:"role"`
	UserName  string `json:"user_name,omitempty"`
}

func (h Handlers) IssueToken(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.SessionID == "" && req.RoomID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id or room_id required"})
		return
	}
	name := req.UserName
	if name == "" {
		name = auth.DisplayName(c.Request.Context())
	}

	res, err := h.Calls.IssueToken(c.Request.Context(), calls.TokenRequest{
		SessionID:   req.SessionID,
		RoomID:      req.RoomID,
		UserID:      userID,
		Role:        rooms.Role(req.Role),
		DisplayName: name,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type endRequest struct {
	RecordingURL string `json:"recording_url,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

func (h Handlers) EndSession(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The body is optional.
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	sess, err := h.Calls.EndSession(c.Request.Context(), calls.EndRequest{
		SessionID:    c.Param("session_id"),
		ActorID:      userID,
		RecordingURL: req.RecordingURL,
		Summary:      req.Summary,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h Handlers) GetSession(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	view, err := h.Calls.GetSession(c.Request.Context(), c.Param("session_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

// ListSessions is the caller's call history, newest first.
func (h Handlers) ListSessions(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	list, err := h.Calls.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

// statusFor maps the calls error taxonomy to HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		msg := "internal error"
		if errors.Is(err, calls.ErrProvisioning) {
			msg = "room provisioning failed"
		}
		c.AbortWithStatusJSON(code, gin.H{"error": msg})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
