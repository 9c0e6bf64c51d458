package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/pkg/logger"
)

func session(id string, status calls.Status) calls.CallSession {
	return calls.CallSession{ID: id, InitiatorID: "alice", ReceiverID: "bob", RoomID: "room-" + id, Status: status}
}

func recv(t *testing.T, sub *Subscription) SessionChanged {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", sub.UserID)
	}
	return SessionChanged{}
}

func TestBus_DeliversToBothParticipantsOnly(t *testing.T) {
	b := NewBus(logger.Discard())
	alice := b.Subscribe("alice", 4)
	bob := b.Subscribe("bob", 4)
	carol := b.Subscribe("carol", 4)
	defer alice.Close()
	defer bob.Close()
	defer carol.Close()

	b.Publish(context.Background(), session("s1", calls.StatusPending), calls.ChangeInsert)

	if ev := recv(t, bob); ev.Change != calls.ChangeInsert || ev.Session.ID != "s1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev := recv(t, alice); ev.Session.Status != calls.StatusPending {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case ev := <-carol.C:
		t.Fatalf("carol must not see %+v", ev)
	default:
	}
}

func TestBus_SlowSubscriberKeepsLatestPerSession(t *testing.T) {
	b := NewBus(logger.Discard())
	bob := b.Subscribe("bob", 2)
	defer bob.Close()

	for _, st := range []calls.Status{calls.StatusPending, calls.StatusActive, calls.StatusEnded} {
		b.Publish(context.Background(), session("s1", st), calls.ChangeUpdate)
	}
	if got := recv(t, bob).Session.Status; got != calls.StatusEnded {
		t.Fatalf("expected superseded rows dropped, got %s first", got)
	}
	if b.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", b.Dropped())
	}
}

func TestBus_SlowSubscriberNeverLosesOtherPendingCall(t *testing.T) {
	b := NewBus(logger.Discard())
	bob := b.Subscribe("bob", 2)
	defer bob.Close()

	ctx := context.Background()
	b.Publish(ctx, session("s2", calls.StatusPending), calls.ChangeInsert)
	b.Publish(ctx, session("s3", calls.StatusActive), calls.ChangeUpdate)
	b.Publish(ctx, session("s4", calls.StatusEnded), calls.ChangeUpdate)

	first := recv(t, bob).Session
	if first.ID != "s2" || first.Status != calls.StatusPending {
		t.Fatalf("expected pending s2 kept, got %s %s", first.ID, first.Status)
	}
	if second := recv(t, bob).Session; second.ID != "s4" {
		t.Fatalf("expected newest kept, got %s", second.ID)
	}
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", b.Dropped())
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBus(logger.Discard())
	sub := b.Subscribe("bob", 1)
	if b.SubscriberCount("bob") != 1 {
		t.Fatalf("expected subscriber")
	}
	sub.Close()
	sub.Close()
	if b.SubscriberCount("bob") != 0 {
		t.Fatalf("expected no subscribers")
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
	// Publishing after close must not panic.
	b.Publish(context.Background(), session("s1", calls.StatusPending), calls.ChangeInsert)
}

type captureForwarder struct{ evs []SessionChanged }

func (f *captureForwarder) Forward(ctx context.Context, ev SessionChanged) { f.evs = append(f.evs, ev) }

func TestBus_ForwardsPublishButNotDeliver(t *testing.T) {
	b := NewBus(logger.Discard())
	fwd := &captureForwarder{}
	b.SetForwarder(fwd)

	b.Publish(context.Background(), session("s1", calls.StatusPending), calls.ChangeInsert)
	b.Deliver(SessionChanged{Session: session("s2", calls.StatusPending), Change: calls.ChangeInsert})

	if len(fwd.evs) != 1 || fwd.evs[0].Session.ID != "s1" {
		t.Fatalf("expected only published change forwarded, got %+v", fwd.evs)
	}
}

func TestRedisRelay_HandleMessage(t *testing.T) {
	b := NewBus(logger.Discard())
	bob := b.Subscribe("bob", 4)
	defer bob.Close()
	r := NewRedisRelay(nil, b, logger.Discard())

	own, _ := json.Marshal(relayEnvelope{Origin: r.instanceID, Change: calls.ChangeInsert, Session: session("s1", calls.StatusPending)})
	if err := r.handleMessage(string(own)); err != nil {
		t.Fatalf("own message: %v", err)
	}
	select {
	case ev := <-bob.C:
		t.Fatalf("own-origin change must not be re-delivered, got %+v", ev)
	default:
	}

	remote, _ := json.Marshal(relayEnvelope{Origin: "other", Change: calls.ChangeUpdate, Session: session("s1", calls.StatusEnded)})
	if err := r.handleMessage(string(remote)); err != nil {
		t.Fatalf("remote message: %v", err)
	}
	if ev := recv(t, bob); ev.Session.Status != calls.StatusEnded || ev.Change != calls.ChangeUpdate {
		t.Fatalf("unexpected relayed event %+v", ev)
	}

	if err := r.handleMessage("not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRecordingMessage(t *testing.T) {
	s := session("s1", calls.StatusEnded)
	s.RecordingURL = "https://rec/1"
	s.RecordingDuration = 90
	msg := recordingMessage("tok", s)
	if msg.Token != "tok" || msg.Data["session_id"] != "s1" || msg.Data["recording_duration"] != "90" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
