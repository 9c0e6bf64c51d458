package callclient

import (
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/notify"
	"call-signaling/internal/profiles"
)

// RingTimeout is how long an incoming call rings before it is auto-rejected.
const RingTimeout = 45 * time.Second

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseAccepting
	PhaseRejecting
	PhaseAccepted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRinging:
		return "ringing"
	case PhaseAccepting:
		return "accepting"
	case PhaseRejecting:
		return "rejecting"
	case PhaseAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one ring. At most one is ever recorded
// per ring.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

type Reason string

const (
	ReasonUser    Reason = "user"
	ReasonTimeout Reason = "timeout"
	ReasonRemote  Reason = "remote"
)

// State is the incoming-call controller state for the logged-in user.
type State struct {
	Phase    Phase
	Session  calls.CallSession
	Caller   profiles.Profile
	Deadline time.Time

	// Dismissed is set when the caller cancels while an accept is in flight.
	Dismissed bool

	// Queued is the latest new incoming call seen while a reject was in
	// flight. It rings once the reject completes.
	Queued *SessionPushed

	Outcome Outcome
	Reason  Reason
	Grant   TokenGrant
}

// TokenGrant is what a successful accept hands to the media client.
type TokenGrant struct {
	Token     string `json:"token"`
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}

// Input is one of the events the controller reacts to.
type Input interface{ isInput() }

type SessionPushed struct {
	Event notify.SessionChanged
	Now   time.Time
}

type CallerLoaded struct {
	SessionID string
	Caller    profiles.Profile
}

type UserAccept struct{ Now time.Time }

type UserReject struct{ Now time.Time }

type TimerFired struct {
	SessionID string
	Now       time.Time
}

type AcceptSucceeded struct {
	SessionID string
	Grant     TokenGrant
}

type AcceptFailed struct {
	SessionID string
	Err       error
	Now       time.Time
}

type RejectDone struct {
	SessionID string
	Err       error
}

// Hangup ends an accepted call from this side.
type Hangup struct{}

// Unmount is logout or shutdown.
type Unmount struct{}

func (SessionPushed) isInput()   {}
func (CallerLoaded) isInput()    {}
func (UserAccept) isInput()      {}
func (UserReject) isInput()      {}
func (TimerFired) isInput()      {}
func (AcceptSucceeded) isInput() {}
func (AcceptFailed) isInput()    {}
func (RejectDone) isInput()      {}
func (Hangup) isInput()          {}
func (Unmount) isInput()         {}

// Effect is work the runtime performs after a transition, in order.
type Effect interface{ isEffect() }

type FetchCaller struct{ SessionID string }

type StartTimer struct {
	SessionID string
	After     time.Duration
}

type CancelTimer struct{}

type IssueToken struct{ SessionID string }

type EndSession struct{ SessionID string }

type StartMedia struct {
	Grant TokenGrant
	Kind  calls.Kind
}

type StopMedia struct{}

type ReportError struct{ Err error }

type Unsubscribe struct{}

func (FetchCaller) isEffect() {}
func (StartTimer) isEffect()  {}
func (CancelTimer) isEffect() {}
func (IssueToken) isEffect()  {}
func (EndSession) isEffect()  {}
func (StartMedia) isEffect()  {}
func (StopMedia) isEffect()   {}
func (ReportError) isEffect() {}
func (Unsubscribe) isEffect() {}
