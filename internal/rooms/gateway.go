package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-signaling/internal/config"
)

// Gateway is the provider-agnostic capability set of the external media
// router (SFU).
//
// Rules:
// - No provider HTTP calls outside this package.
// - The room secret never leaves the server; only signed join tokens do.
// - Room ids are unique for the lifetime of the system.
type Gateway interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error)
	IssueToken(ctx context.Context, req JoinTokenRequest) (string, error)
	// ValidateRoom reports whether the room still exists and is enabled.
	ValidateRoom(ctx context.Context, roomID string) (bool, error)
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
	Region      string `json:"region,omitempty"`
}

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TemplateID  string    `json:"template_id,omitempty"`
	Region      string    `json:"region,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`

	// Mock is true for rooms created without provider credentials.
	Mock bool `json:"mock,omitempty"`
}

// JoinTokenRequest is the single token contract for audio and video calls.
// Kind only matters to the media client.
type JoinTokenRequest struct {
	RoomID      string
	UserID      string
	Role        Role
	DisplayName string
	// TTL <= 0 uses the issuer default.
	TTL time.Duration
}

// Role decides publish capability inside the room.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

func (r Role) Valid() bool {
	return r == RolePublisher || r == RoleSubscriber
}

var (
	ErrInvalidRole    = errors.New("rooms: invalid role")
	ErrInvalidRequest = errors.New("rooms: invalid request")
	// ErrProvider wraps every failure talking to the provider control API.
	ErrProvider = errors.New("rooms: provider error")
)

func (r JoinTokenRequest) validate() error {
	if r.RoomID == "" || r.UserID == "" {
		return fmt.Errorf("%w: room_id and user_id required", ErrInvalidRequest)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, r.Role)
	}
	return nil
}

// New picks the live HTTP gateway when credentials are configured and the
// mock gateway otherwise.
func New(cfg config.RoomConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	issuer := NewTokenIssuer(cfg.AccessKey, cfg.Secret, cfg.TokenTTL)
	if !cfg.Configured() {
		log.Warn("room provider not configured; using mock rooms")
		return &Service{Gateway: NewMockGateway(issuer), Mock: true}
	}
	mgmt := NewManagementCredential(cfg.AccessKey, cfg.Secret, cfg.ManagementTTL)
	return &Service{Gateway: NewHTTPGateway(cfg.ProviderURL, mgmt, issuer), Mock: false}
}

// Service is what the process wires: the chosen gateway plus whether it is a
// mock, for startup logging and health output.
type Service struct {
	Gateway
	Mock bool
}
