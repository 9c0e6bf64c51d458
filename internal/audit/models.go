package audit

import "time"

// Event is an immutable, append-only record of something that happened to a
// call session: a status transition, a provider webhook, a token grant.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required.
// - Audit writes are best-effort; callers never fail a call flow on them.
type Event struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`

	Type EventType `json:"type" db:"type"`

	// ActorUserID is empty for provider-driven events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	// ProviderEvent is the raw webhook event name (session.started, ...).
	ProviderEvent string `json:"provider_event,omitempty" db:"provider_event"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCreated       EventType = "session_created"
	EventTypeTransition    EventType = "status_transition"
	EventTypeTokenIssued   EventType = "token_issued"
	EventTypeProviderEvent EventType = "provider_event"
)
