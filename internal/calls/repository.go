package calls

import (
	"context"
	"fmt"
	"time"
)

// Repository is the persistence contract for call sessions.
//
// It is the serialization point for concurrent REST and webhook inputs:
// every status change is a compare-and-set guarded by the allowed source
// statuses, so a late or duplicate writer can never regress a row.
// No Delete method is provided; terminal rows are history.
type Repository interface {
	Insert(ctx context.Context, s CallSession) error
	Get(ctx context.Context, id string) (CallSession, error)
	GetByRoomID(ctx context.Context, roomID string) (CallSession, error)
	ListByParticipant(ctx context.Context, userID string, limit int) ([]CallSession, error)

	// Transition moves the row to req.To if its current status is one of
	// req.From. It returns the row after the call and whether the status
	// changed. When the guard fails the status is untouched, but req.Event
	// (if set) is still recorded as last_event.
	Transition(ctx context.Context, req TransitionRequest) (CallSession, bool, error)

	// RecordEvent stores a provider event (and optional recording metadata)
	// without touching status.
	RecordEvent(ctx context.Context, req EventUpdate) (CallSession, error)
}

// TransitionRequest identifies the row by SessionID, or by RoomID when
// SessionID is empty.
type TransitionRequest struct {
	SessionID string
	RoomID    string

	From []Status
	To   Status

	// Event is the provider event that caused the change, if any.
	Event string

	RecordingURL string
	Summary      string

	Now time.Time
}

func (r TransitionRequest) validate() error {
	if r.SessionID == "" && r.RoomID == "" {
		return fmt.Errorf("%w: session_id or room_id required", ErrValidation)
	}
	if len(r.From) == 0 {
		return fmt.Errorf("%w: transition needs source statuses", ErrValidation)
	}
	for _, f := range r.From {
		if !CanTransition(f, r.To) {
			return fmt.Errorf("%w: illegal transition %s -> %s", ErrValidation, f, r.To)
		}
	}
	if r.Now.IsZero() {
		return fmt.Errorf("%w: transition time required", ErrValidation)
	}
	return nil
}

func (r TransitionRequest) allows(s Status) bool {
	for _, f := range r.From {
		if f == s {
			return true
		}
	}
	return false
}

type EventUpdate struct {
	RoomID string
	Event  string

	RecordingURL      string
	RecordingDuration int

	Now time.Time
}

func (u EventUpdate) validate() error {
	if u.RoomID == "" || u.Event == "" {
		return fmt.Errorf("%w: room_id and event required", ErrValidation)
	}
	if u.Now.IsZero() {
		return fmt.Errorf("%w: event time required", ErrValidation)
	}
	return nil
}

func validateNew(s CallSession) error {
	if s.ID == "" || s.RoomID == "" {
		return fmt.Errorf("%w: id and room_id required", ErrValidation)
	}
	if s.InitiatorID == "" || s.ReceiverID == "" || s.InitiatorID == s.ReceiverID {
		return fmt.Errorf("%w: two distinct participants required", ErrValidation)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, s.Kind)
	}
	if s.Status != StatusPending {
		return fmt.Errorf("%w: sessions start pending", ErrValidation)
	}
	return nil
}
