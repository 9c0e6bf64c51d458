package rooms

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is the degraded room provider used when credentials are not
// configured. Tokens are still signed so clients exercise the same flow.
type MockGateway struct {
	issuer *TokenIssuer
	now    func() time.Time

	mu       sync.Mutex
	rooms    map[string]Room
	disabled map[string]bool
}

const mockRoomPrefix = "mock-"

func NewMockGateway(issuer *TokenIssuer) *MockGateway {
	if issuer == nil {
		issuer = NewTokenIssuer("mock", "", 0)
	}
	return &MockGateway{issuer: issuer, now: time.Now, rooms: map[string]Room{}, disabled: map[string]bool{}}
}

func (g *MockGateway) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	if req.Name == "" {
		return Room{}, fmt.Errorf("%w: room name required", ErrInvalidRequest)
	}
	r := Room{
		ID:          mockRoomPrefix + uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		TemplateID:  req.TemplateID,
		Region:      req.Region,
		Enabled:     true,
		CreatedAt:   g.now().UTC(),
		Mock:        true,
	}
	g.mu.Lock()
	g.rooms[r.ID] = r
	g.mu.Unlock()
	return r, nil
}

func (g *MockGateway) IssueToken(ctx context.Context, req JoinTokenRequest) (string, error) {
	return g.issuer.Issue(req)
}

func (g *MockGateway) ValidateRoom(ctx context.Context, roomID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled[roomID] {
		return false, nil
	}
	if r, ok := g.rooms[roomID]; ok {
		return r.Enabled, nil
	}
	// Mock rooms have no backing provider, so one created by another
	// instance or before a restart is still valid.
	return isMockRoomID(roomID), nil
}

func isMockRoomID(id string) bool {
	rest, ok := strings.CutPrefix(id, mockRoomPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// DisableRoom simulates the provider disabling or expiring a room.
func (g *MockGateway) DisableRoom(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled[roomID] = true
	if r, ok := g.rooms[roomID]; ok {
		r.Enabled = false
		g.rooms[roomID] = r
	}
}

// Issuer exposes the signer so tests can verify mock tokens.
func (g *MockGateway) Issuer() *TokenIssuer { return g.issuer }

var _ Gateway = (*MockGateway)(nil)
