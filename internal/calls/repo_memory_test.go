package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seed(t *testing.T, r Repository, id, room string) CallSession {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := CallSession{
		ID: id, Kind: KindAudio, InitiatorID: "a", ReceiverID: "b",
		RoomID: room, Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := r.Insert(context.Background(), s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return s
}

func TestCanTransition_Table(t *testing.T) {
	all := []Status{StatusPending, StatusActive, StatusEnded, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusActive}: true,
		{StatusPending, StatusEnded}:  true,
		{StatusPending, StatusFailed}: true,
		{StatusActive, StatusEnded}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestMemoryRepo_RoomIDUnique(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "s1", "room-1")
	s := CallSession{ID: "s2", Kind: KindAudio, InitiatorID: "a", ReceiverID: "b", RoomID: "room-1", Status: StatusPending}
	if err := r.Insert(context.Background(), s); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryRepo_InsertRejectsSelfCall(t *testing.T) {
	r := NewMemoryRepo()
	s := CallSession{ID: "s1", Kind: KindAudio, InitiatorID: "a", ReceiverID: "a", RoomID: "r", Status: StatusPending}
	if err := r.Insert(context.Background(), s); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMemoryRepo_TransitionIsGuarded(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "s1", "room-1")
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	ended, applied, err := r.Transition(ctx, TransitionRequest{
		RoomID: "room-1", From: []Status{StatusPending, StatusActive}, To: StatusEnded, Event: "session.ended", Now: t1,
	})
	if err != nil || !applied || ended.Status != StatusEnded {
		t.Fatalf("expected ended, got %+v applied=%v err=%v", ended, applied, err)
	}

	// Late session.started must not resurrect the session.
	got, applied, err := r.Transition(ctx, TransitionRequest{
		RoomID: "room-1", From: []Status{StatusPending}, To: StatusActive, Event: "session.started", Now: t2,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if applied || got.Status != StatusEnded || got.StartedAt != nil {
		t.Fatalf("expected no-op on terminal row, got %+v applied=%v", got, applied)
	}
	if got.LastEvent != "session.started" {
		t.Fatalf("expected last_event recorded, got %q", got.LastEvent)
	}
	if !got.EndedAt.Equal(t1) {
		t.Fatalf("ended_at must not move, got %v", got.EndedAt)
	}
}

func TestMemoryRepo_IllegalTransitionRejected(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "s1", "room-1")
	_, _, err := r.Transition(context.Background(), TransitionRequest{
		SessionID: "s1", From: []Status{StatusActive}, To: StatusPending, Now: time.Now(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMemoryRepo_RecordEventKeepsStatus(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "s1", "room-1")
	got, err := r.RecordEvent(context.Background(), EventUpdate{
		RoomID: "room-1", Event: "recording.ready", RecordingURL: "https://rec/1", RecordingDuration: 42, Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Status != StatusPending || got.RecordingURL != "https://rec/1" || got.RecordingDuration != 42 {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestMemoryRepo_ListByParticipantNewestFirst(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		s := CallSession{ID: id, Kind: KindAudio, InitiatorID: "a", ReceiverID: "b", RoomID: "room-" + id,
			Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := r.Insert(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	other := CallSession{ID: "x", Kind: KindVideo, InitiatorID: "c", ReceiverID: "d", RoomID: "room-x", Status: StatusPending}
	_ = r.Insert(ctx, other)

	got, err := r.ListByParticipant(ctx, "b", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s3" || got[1].ID != "s2" {
		t.Fatalf("unexpected history %+v", got)
	}
}

type recordingPublisher struct {
	changes []ChangeKind
	rows    []CallSession
}

func (p *recordingPublisher) Publish(ctx context.Context, s CallSession, change ChangeKind) {
	p.changes = append(p.changes, change)
	p.rows = append(p.rows, s)
}

func TestPublishingRepo_PublishesEveryWrite(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewPublishingRepo(NewMemoryRepo(), pub)
	ctx := context.Background()
	seed(t, r, "s1", "room-1")

	now := time.Now()
	if _, _, err := r.Transition(ctx, TransitionRequest{SessionID: "s1", From: []Status{StatusPending}, To: StatusActive, Now: now}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// Rejected without an event: nothing written, nothing published.
	if _, applied, _ := r.Transition(ctx, TransitionRequest{SessionID: "s1", From: []Status{StatusPending}, To: StatusActive, Now: now}); applied {
		t.Fatalf("expected guard to reject")
	}
	// Rejected with an event: last_event written, so published.
	_, _, _ = r.Transition(ctx, TransitionRequest{RoomID: "room-1", From: []Status{StatusPending}, To: StatusActive, Event: "session.started", Now: now})

	want := []ChangeKind{ChangeInsert, ChangeUpdate, ChangeUpdate}
	if len(pub.changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, pub.changes)
	}
	for i := range want {
		if pub.changes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, pub.changes)
		}
	}
	if pub.rows[0].Status != StatusPending || pub.rows[1].Status != StatusActive {
		t.Fatalf("unexpected published rows %+v", pub.rows)
	}
}
