package callclient

import (
	"call-signaling/internal/calls"
)

// Step is the incoming-call state machine. It is pure: all I/O is returned
// as effects. self is the logged-in user id.
//
// Accept cancels the ring timer in the same step that starts the token
// request, and Accepting ignores TimerFired, so accept and timeout can never
// both resolve a ring.
func Step(st State, in Input, self string) (State, []Effect) {
	if _, ok := in.(Unmount); ok {
		effects := []Effect{CancelTimer{}}
		if st.Phase == PhaseAccepted {
			effects = append(effects, StopMedia{})
		}
		effects = append(effects, Unsubscribe{})
		return State{Phase: PhaseIdle, Outcome: st.Outcome, Reason: st.Reason}, effects
	}

	switch st.Phase {
	case PhaseIdle:
		return stepIdle(st, in, self)
	case PhaseRinging:
		return stepRinging(st, in)
	case PhaseAccepting:
		return stepAccepting(st, in)
	case PhaseRejecting:
		return stepRejecting(st, in, self)
	case PhaseAccepted:
		return stepAccepted(st, in)
	}
	return st, nil
}

func stepIdle(st State, in Input, self string) (State, []Effect) {
	ev, ok := in.(SessionPushed)
	if !ok {
		return st, nil
	}
	s := ev.Event.Session
	if s.Status != calls.StatusPending || s.ReceiverID != self {
		return st, nil
	}
	// A pending row older than the ring window is stale (e.g. replayed after
	// a reconnect); the caller has already given up.
	if !s.CreatedAt.IsZero() && ev.Now.Sub(s.CreatedAt) >= RingTimeout {
		return st, nil
	}
	next := State{
		Phase:    PhaseRinging,
		Session:  s,
		Deadline: ev.Now.Add(RingTimeout),
	}
	return next, []Effect{
		StartTimer{SessionID: s.ID, After: RingTimeout},
		FetchCaller{SessionID: s.ID},
	}
}

func stepRinging(st State, in Input) (State, []Effect) {
	switch in := in.(type) {
	case SessionPushed:
		s := in.Event.Session
		if s.ID != st.Session.ID {
			return st, nil
		}
		switch {
		case s.Status.Terminal():
			// Caller cancelled. EndSession is idempotent, so resolve the same
			// way a local reject does.
			return rejecting(st, ReasonRemote), []Effect{CancelTimer{}, EndSession{SessionID: st.Session.ID}}
		case s.Status == calls.StatusActive:
			st.Session = s
		}
		return st, nil

	case CallerLoaded:
		if in.SessionID == st.Session.ID {
			st.Caller = in.Caller
		}
		return st, nil

	case UserAccept:
		st.Phase = PhaseAccepting
		return st, []Effect{CancelTimer{}, IssueToken{SessionID: st.Session.ID}}

	case UserReject:
		return rejecting(st, ReasonUser), []Effect{CancelTimer{}, EndSession{SessionID: st.Session.ID}}

	case TimerFired:
		if in.SessionID != st.Session.ID || in.Now.Before(st.Deadline) {
			return st, nil
		}
		return rejecting(st, ReasonTimeout), []Effect{EndSession{SessionID: st.Session.ID}}
	}
	return st, nil
}

func stepAccepting(st State, in Input) (State, []Effect) {
	switch in := in.(type) {
	case SessionPushed:
		if in.Event.Session.ID == st.Session.ID && in.Event.Session.Status.Terminal() {
			st.Dismissed = true
		}
		return st, nil

	case CallerLoaded:
		if in.SessionID == st.Session.ID {
			st.Caller = in.Caller
		}
		return st, nil

	case AcceptSucceeded:
		if in.SessionID != st.Session.ID {
			return st, nil
		}
		if st.Dismissed {
			// The session ended while the token was in flight; never join
			// a dead room.
			return rejecting(st, ReasonRemote), []Effect{EndSession{SessionID: st.Session.ID}}
		}
		st.Phase = PhaseAccepted
		st.Outcome = OutcomeAccepted
		st.Reason = ReasonUser
		st.Grant = in.Grant
		return st, []Effect{StartMedia{Grant: in.Grant, Kind: st.Session.Kind}}

	case AcceptFailed:
		if in.SessionID != st.Session.ID {
			return st, nil
		}
		if !st.Dismissed && in.Now.Before(st.Deadline) {
			st.Phase = PhaseRinging
			return st, []Effect{
				ReportError{Err: in.Err},
				StartTimer{SessionID: st.Session.ID, After: st.Deadline.Sub(in.Now)},
			}
		}
		reason := ReasonTimeout
		if st.Dismissed {
			reason = ReasonRemote
		}
		return rejecting(st, reason), []Effect{ReportError{Err: in.Err}, EndSession{SessionID: st.Session.ID}}
	}
	// UserAccept, UserReject and TimerFired are ignored while the accept is
	// in flight.
	return st, nil
}

func stepRejecting(st State, in Input, self string) (State, []Effect) {
	switch in := in.(type) {
	case SessionPushed:
		s := in.Event.Session
		if s.ID != st.Session.ID && s.Status == calls.StatusPending && s.ReceiverID == self {
			queued := in
			st.Queued = &queued
		} else if st.Queued != nil && s.ID == st.Queued.Event.Session.ID && s.Status.Terminal() {
			st.Queued = nil
		}
		return st, nil

	case RejectDone:
		if in.SessionID != st.Session.ID {
			return st, nil
		}
		next := State{Phase: PhaseIdle, Session: st.Session, Outcome: st.Outcome, Reason: st.Reason}
		var effects []Effect
		if in.Err != nil {
			effects = append(effects, ReportError{Err: in.Err})
		}
		if st.Queued != nil {
			// Staleness is judged against the time the push arrived.
			rung, more := stepIdle(next, *st.Queued, self)
			return rung, append(effects, more...)
		}
		return next, effects
	}
	return st, nil
}

func stepAccepted(st State, in Input) (State, []Effect) {
	switch in := in.(type) {
	case SessionPushed:
		s := in.Event.Session
		if s.ID == st.Session.ID && s.Status.Terminal() {
			return idleAfterCall(st), []Effect{StopMedia{}}
		}
		if s.ID == st.Session.ID {
			st.Session = s
		}
	case Hangup:
		return idleAfterCall(st), []Effect{StopMedia{}, EndSession{SessionID: st.Session.ID}}
	}
	return st, nil
}

func rejecting(st State, reason Reason) State {
	st.Phase = PhaseRejecting
	st.Outcome = OutcomeRejected
	st.Reason = reason
	return st
}

func idleAfterCall(st State) State {
	return State{Phase: PhaseIdle, Session: st.Session, Outcome: st.Outcome, Reason: st.Reason}
}
