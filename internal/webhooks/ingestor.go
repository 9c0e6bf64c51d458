package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/calls"
	"call-signaling/internal/notify"
	"call-signaling/internal/profiles"
	"call-signaling/pkg/logger"
)

// Provider lifecycle events. Anything else is recorded as last_event only.
const (
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
	EventRecordingReady = "recording.ready"
)

// Event is the provider webhook envelope. The provider only knows its own
// room id; session_id is informational.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	RoomID       string `json:"room_id"`
	SessionID    string `json:"session_id,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
	// Duration is in seconds; some providers send fractions.
	Duration float64 `json:"duration,omitempty"`
}

var ErrMalformed = errors.New("webhooks: malformed event")

// maxRecordingSeconds is the largest duration the INTEGER column holds.
const maxRecordingSeconds = math.MaxInt32

// Result tells the provider-facing handler what happened. Unmatched events
// are still a success.
type Result struct {
	Matched bool
	Applied bool
	Session calls.CallSession
}

// Ingestor applies provider events to the session store. Every write is a
// status-guarded update, so duplicate and out-of-order deliveries are no-ops
// apart from last_event.
type Ingestor struct {
	repo     calls.Repository
	profiles profiles.Directory
	notifier notify.RecordingNotifier
	audit    *audit.Service

	log   *slog.Logger
	clock func() time.Time

	// NotifyTimeout bounds the best-effort recording notification.
	NotifyTimeout time.Duration
}

func NewIngestor(repo calls.Repository, dir profiles.Directory, notifier notify.RecordingNotifier, auditSvc *audit.Service, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	return &Ingestor{
		repo:          repo,
		profiles:      dir,
		notifier:      notifier,
		audit:         auditSvc,
		log:           log,
		clock:         time.Now,
		NotifyTimeout: 5 * time.Second,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, ev Event) (Result, error) {
	if ev.Event == "" || ev.Data.RoomID == "" {
		return Result{}, fmt.Errorf("%w: event and data.room_id required", ErrMalformed)
	}
	if ev.Data.Duration < 0 || ev.Data.Duration > maxRecordingSeconds {
		return Result{}, fmt.Errorf("%w: duration %v out of range", ErrMalformed, ev.Data.Duration)
	}

	before, err := i.repo.GetByRoomID(ctx, ev.Data.RoomID)
	if errors.Is(err, calls.ErrNotFound) {
		return Result{Matched: false}, nil
	}
	if err != nil {
		return Result{}, err
	}

	now := i.clock().UTC()
	var res Result
	switch ev.Event {
	case EventSessionStarted:
		res, err = i.transition(ctx, calls.TransitionRequest{
			RoomID: ev.Data.RoomID,
			From:   []calls.Status{calls.StatusPending},
			To:     calls.StatusActive,
			Event:  ev.Event,
			Now:    now,
		})
	case EventSessionEnded:
		res, err = i.transition(ctx, calls.TransitionRequest{
			RoomID:       ev.Data.RoomID,
			From:         []calls.Status{calls.StatusPending, calls.StatusActive},
			To:           calls.StatusEnded,
			Event:        ev.Event,
			RecordingURL: ev.Data.RecordingURL,
			Now:          now,
		})
	default:
		var s calls.CallSession
		s, err = i.repo.RecordEvent(ctx, calls.EventUpdate{
			RoomID:            ev.Data.RoomID,
			Event:             ev.Event,
			RecordingURL:      ev.Data.RecordingURL,
			RecordingDuration: int(math.Round(ev.Data.Duration)),
			Now:               now,
		})
		res = Result{Matched: true, Session: s}
	}
	if errors.Is(err, calls.ErrNotFound) {
		return Result{Matched: false}, nil
	}
	if err != nil {
		return Result{}, err
	}

	i.record(ctx, before, res, ev.Event)

	if ev.Event == EventRecordingReady {
		i.notifyParticipants(ctx, res.Session)
	}
	return res, nil
}

func (i *Ingestor) transition(ctx context.Context, req calls.TransitionRequest) (Result, error) {
	s, applied, err := i.repo.Transition(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: true, Applied: applied, Session: s}, nil
}

func (i *Ingestor) record(ctx context.Context, before calls.CallSession, res Result, event string) {
	if i.audit == nil {
		return
	}
	var err error
	if res.Applied {
		err = i.audit.LogTransition(ctx, res.Session.ID, "", string(before.Status), string(res.Session.Status), event)
	} else {
		err = i.audit.LogProviderEvent(ctx, res.Session.ID, event, "status unchanged: "+string(res.Session.Status), "")
	}
	if err != nil {
		logger.FromOr(ctx, i.log).Warn("audit append failed", "session_id", res.Session.ID, "err", err)
	}
}

// notifyParticipants is fire-once and best-effort: failures are logged and
// never change the webhook response.
func (i *Ingestor) notifyParticipants(ctx context.Context, s calls.CallSession) {
	log := logger.FromOr(ctx, i.log)
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.NotifyTimeout)
	defer cancel()

	for _, userID := range []string{s.InitiatorID, s.ReceiverID} {
		var contacts []profiles.Contact
		if i.profiles != nil {
			cs, err := i.profiles.Contacts(nctx, userID)
			if err != nil && !errors.Is(err, profiles.ErrNotFound) {
				log.Warn("contact lookup failed", "user_id", userID, "err", err)
			}
			contacts = cs
		}
		if err := i.notifier.NotifyRecordingReady(nctx, userID, contacts, s); err != nil {
			log.Warn("recording notification failed", "user_id", userID, "session_id", s.ID, "err", err)
		}
	}
}
