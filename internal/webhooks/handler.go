package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	maxBodyBytes    = 1 << 20
)

// Handler is POST /webhook. No user auth; the body is HMAC-signed by the
// provider.
//
// Responses:
// - 401 bad signature, 400 unreadable body, 413 oversized body
// - 500 storage failure, so the provider retries
// - 200 otherwise, including malformed events and events that match no
//   session; a retry could never succeed for those
type Handler struct {
	Ingestor *Ingestor

	// Secret is the shared webhook secret. Empty skips verification, which
	// config only allows outside production.
	Secret string
}

func (h Handler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Ingestor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook ingestor not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	if h.Secret != "" && !VerifySignature(h.Secret, body, c.GetHeader(SignatureHeader)) {
		log.Warn("webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("webhook parse failed; acknowledged", "err", err)
		c.JSON(http.StatusOK, gin.H{"ok": true, "matched": false, "applied": false})
		return
	}

	res, err := h.Ingestor.Ingest(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			log.Warn("malformed webhook; acknowledged", "event", ev.Event, "err", err)
			c.JSON(http.StatusOK, gin.H{"ok": true, "matched": false, "applied": false})
			return
		}
		log.Error("webhook ingest failed", "event", ev.Event, "room_id", ev.Data.RoomID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}

	if !res.Matched {
		log.Info("webhook for unknown room", "event", ev.Event, "room_id", ev.Data.RoomID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "matched": res.Matched, "applied": res.Applied})
}

// Sign returns the hex HMAC-SHA256 of body, as sent in SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
