package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records the history of call sessions.
//
// IMPORTANT:
// - Audit is internal-only. Session reads never include these records.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) LogCreated(ctx context.Context, sessionID, actorUserID, message string) error {
	return s.Append(ctx, Event{
		SessionID:   sessionID,
		Type:        EventTypeCreated,
		ActorUserID: actorUserID,
		ToStatus:    "pending",
		Message:     message,
	})
}

// LogTransition records a status change. actorUserID is empty when a
// provider webhook caused it.
func (s *Service) LogTransition(ctx context.Context, sessionID, actorUserID, from, to, providerEvent string) error {
	return s.Append(ctx, Event{
		SessionID:     sessionID,
		Type:          EventTypeTransition,
		ActorUserID:   actorUserID,
		FromStatus:    from,
		ToStatus:      to,
		ProviderEvent: providerEvent,
	})
}

func (s *Service) LogTokenIssued(ctx context.Context, sessionID, actorUserID, role string) error {
	return s.Append(ctx, Event{
		SessionID:   sessionID,
		Type:        EventTypeTokenIssued,
		ActorUserID: actorUserID,
		Message:     "join token issued",
		Metadata:    `{"role":"` + role + `"}`,
	})
}

// LogProviderEvent records a webhook that did not change status
// (duplicates, late deliveries, recording.ready).
func (s *Service) LogProviderEvent(ctx context.Context, sessionID, providerEvent, message, metadata string) error {
	return s.Append(ctx, Event{
		SessionID:     sessionID,
		Type:          EventTypeProviderEvent,
		ProviderEvent: providerEvent,
		Message:       message,
		Metadata:      metadata,
	})
}
