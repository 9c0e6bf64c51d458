package calls

import "time"

// CallSession is the only durable entity of the call subsystem.
//
// Invariants:
// - InitiatorID != ReceiverID; both immutable.
// - RoomID is unique for the lifetime of the system (provider rooms are never reused).
// - Status only moves forward (see CanTransition); ended and failed are terminal.
// - StartedAt and EndedAt are each set at most once.
// - Rows are never deleted; terminal rows are kept as call history.
type CallSession struct {
	ID          string `json:"id" db:"id"`
	Kind        Kind   `json:"kind" db:"kind"`
	InitiatorID string `json:"initiator_id" db:"initiator_id"`
	ReceiverID  string `json:"receiver_id" db:"receiver_id"`
	RoomID      string `json:"room_id" db:"room_id"`

	Status Status `json:"status" db:"status"`

	// LastEvent is the most recent provider webhook event applied or observed.
	LastEvent string `json:"last_event,omitempty" db:"last_event"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	// RecordingDuration is in seconds.
	RecordingDuration int    `json:"recording_duration,omitempty" db:"recording_duration"`
	Summary           string `json:"summary,omitempty" db:"summary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether userID is the initiator or the receiver.
func (s CallSession) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.InitiatorID || userID == s.ReceiverID)
}

// Counterpart returns the other participant, or "" for non-participants.
func (s CallSession) Counterpart(userID string) string {
	switch userID {
	case s.InitiatorID:
		return s.ReceiverID
	case s.ReceiverID:
		return s.InitiatorID
	default:
		return ""
	}
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// CanTransition is the session state machine:
//
//	pending -> active -> ended
//	pending -> ended   (reject / cancel / timeout)
//	pending -> failed  (room provisioning error)
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusEnded || to == StatusFailed
	case StatusActive:
		return to == StatusEnded
	default:
		return false
	}
}

// ChangeKind describes a row mutation on the session change feed.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)
