package calls

import "errors"

// Error taxonomy. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrValidation: bad or missing participant, kind or role.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden: the actor is not a participant of the session.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound: session, room or receiver does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProvisioning: the room provider failed. Always safe to retry.
	ErrProvisioning = errors.New("room provisioning failed")
	// ErrConflict: the action is not allowed on a terminal session.
	ErrConflict = errors.New("conflict")
)
