package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/profiles"
	"call-signaling/internal/rooms"
	"call-signaling/pkg/logger"
)

type failingGateway struct {
	rooms.Gateway
	fail bool
}

func (g *failingGateway) CreateRoom(ctx context.Context, req rooms.CreateRoomRequest) (rooms.Room, error) {
	if g.fail {
		return rooms.Room{}, rooms.ErrProvider
	}
	return g.Gateway.CreateRoom(ctx, req)
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepo
	gw    *rooms.MockGateway
	audit *audit.MemoryRepo
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  NewMemoryRepo(),
		gw:    rooms.NewMockGateway(rooms.NewTokenIssuer("ak", "secret", 0)),
		audit: audit.NewMemoryRepo(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	dir := profiles.NewMemoryDirectory(
		profiles.Profile{ID: "alice", DisplayName: "Alice"},
		profiles.Profile{ID: "bob", DisplayName: "Bob"},
	)
	f.svc = NewService(f.repo, f.gw, dir, Options{Audit: audit.NewService(f.audit), Logger: logger.Discard()})
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) create(t *testing.T) CallSession {
	t.Helper()
	s, _, err := f.svc.CreateSession(context.Background(), CreateRequest{InitiatorID: "alice", ReceiverID: "bob", Kind: KindAudio})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestCreateSession_PendingRowWithRoom(t *testing.T) {
	f := newFixture(t)
	s, room, err := f.svc.CreateSession(context.Background(), CreateRequest{InitiatorID: "alice", ReceiverID: "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != StatusPending || s.Kind != KindAudio || s.RoomID != room.ID {
		t.Fatalf("unexpected session %+v room %+v", s, room)
	}
	stored, err := f.repo.Get(context.Background(), s.ID)
	if err != nil || stored.RoomID != room.ID {
		t.Fatalf("expected stored row, got %+v %v", stored, err)
	}
	if evs := f.audit.ForSession(s.ID); len(evs) != 1 || evs[0].Type != audit.EventTypeCreated {
		t.Fatalf("expected created audit event, got %+v", evs)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing receiver", CreateRequest{InitiatorID: "alice"}, ErrValidation},
		{"self call", CreateRequest{InitiatorID: "alice", ReceiverID: "alice"}, ErrValidation},
		{"bad kind", CreateRequest{InitiatorID: "alice", ReceiverID: "bob", Kind: "fax"}, ErrValidation},
		{"unknown receiver", CreateRequest{InitiatorID: "alice", ReceiverID: "carol"}, ErrNotFound},
	}
	for _, tc := range cases {
		if _, _, err := f.svc.CreateSession(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreateSession_ProvisioningFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	gw := &failingGateway{Gateway: f.gw, fail: true}
	f.svc.rooms = gw
	ctx := context.Background()

	_, _, err := f.svc.CreateSession(ctx, CreateRequest{InitiatorID: "alice", ReceiverID: "bob"})
	if !errors.Is(err, ErrProvisioning) {
		t.Fatalf("expected ErrProvisioning, got %v", err)
	}
	if rows, _ := f.repo.ListByParticipant(ctx, "alice", 0); len(rows) != 0 {
		t.Fatalf("expected no rows after provisioning failure, got %d", len(rows))
	}

	gw.fail = false
	a, ra, err := f.svc.CreateSession(ctx, CreateRequest{InitiatorID: "alice", ReceiverID: "bob"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	b, rb, err := f.svc.CreateSession(ctx, CreateRequest{InitiatorID: "alice", ReceiverID: "bob"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if a.ID == b.ID || ra.ID == rb.ID {
		t.Fatalf("expected independent session/room pairs")
	}
}

func TestIssueToken_FirstIssuanceActivatesOnce(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	res, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.Session.Status != StatusActive || res.Session.StartedAt == nil || !res.Session.StartedAt.Equal(f.now) {
		t.Fatalf("expected active with started_at, got %+v", res.Session)
	}
	claims, err := f.gw.Issuer().Verify(res.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.RoomID != s.RoomID || claims.UserID != "bob" || claims.Name != "Bob" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	first := *res.Session.StartedAt
	f.now = f.now.Add(time.Minute)
	res2, err := f.svc.IssueToken(ctx, TokenRequest{RoomID: s.RoomID, UserID: "alice", Role: rooms.RolePublisher})
	if err != nil {
		t.Fatalf("token by room: %v", err)
	}
	if !res2.Session.StartedAt.Equal(first) {
		t.Fatalf("started_at moved from %v to %v", first, res2.Session.StartedAt)
	}
}

func TestIssueToken_ConcurrentCallsSetStartedAtOnce(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		user := "alice"
		if i%2 == 0 {
			user = "bob"
		}
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: user, Role: rooms.RolePublisher})
			errs <- err
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("token: %v", err)
		}
	}

	transitions := 0
	for _, e := range f.audit.ForSession(s.ID) {
		if e.Type == audit.EventTypeTransition && e.ToStatus == string(StatusActive) {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected exactly one pending->active transition, got %d", transitions)
	}
}

func TestIssueToken_Failures(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "mallory", Role: rooms.RolePublisher}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: "admin"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: "nope", UserID: "bob", Role: rooms.RolePublisher}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "alice"}); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after end, got %v", err)
	}
}

func TestIssueToken_StaleRoomFailsPendingSession(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	f.gw.DisableRoom(s.RoomID)

	_, err := f.svc.IssueToken(context.Background(), TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := f.repo.Get(context.Background(), s.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()
	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher}); err != nil {
		t.Fatalf("token: %v", err)
	}

	f.now = f.now.Add(5 * time.Minute)
	first, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "bob", Summary: "quick chat"})
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if first.Status != StatusEnded || first.EndedAt == nil || first.Summary != "quick chat" {
		t.Fatalf("unexpected ended row %+v", first)
	}

	f.now = f.now.Add(time.Minute)
	second, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "alice"})
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) || second.Status != StatusEnded || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected identical terminal row, got %+v vs %+v", second, first)
	}
}

func TestEndSession_ConcurrentBothSucceed(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, actor := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, results[i] = f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: actor})
		}(i, actor)
	}
	wg.Wait()
	for _, err := range results {
		if err != nil {
			t.Fatalf("end: %v", err)
		}
	}
	got, _ := f.repo.Get(ctx, s.ID)
	if got.Status != StatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}
}

func TestNonParticipantNeverSeesData(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	if v, err := f.svc.GetSession(ctx, s.ID, "mallory"); !errors.Is(err, ErrForbidden) || v.ID != "" {
		t.Fatalf("expected ErrForbidden and empty view, got %+v %v", v, err)
	}
	if row, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "mallory"}); !errors.Is(err, ErrForbidden) || row.ID != "" {
		t.Fatalf("expected ErrForbidden, got %+v %v", row, err)
	}
	got, _ := f.repo.Get(ctx, s.ID)
	if got.Status != StatusPending {
		t.Fatalf("forbidden end must not mutate, got %s", got.Status)
	}
}

func TestGetSession_JoinsProfiles(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	v, err := f.svc.GetSession(context.Background(), s.ID, "bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Initiator.DisplayName != "Alice" || v.Receiver.DisplayName != "Bob" || v.RoomID != s.RoomID {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestScenario_CallAnsweredAndEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	f.now = f.now.Add(8 * time.Second)
	for _, u := range []string{"bob", "alice"} {
		if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: u, Role: rooms.RolePublisher}); err != nil {
			t.Fatalf("token %s: %v", u, err)
		}
	}
	active, _ := f.repo.Get(ctx, s.ID)
	if active.Status != StatusActive || !active.StartedAt.Equal(f.now) {
		t.Fatalf("expected active at %v, got %+v", f.now, active)
	}

	f.now = f.now.Add(3 * time.Minute)
	ended, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "alice"})
	if err != nil || ended.Status != StatusEnded || !ended.EndedAt.Equal(f.now) {
		t.Fatalf("unexpected end %+v %v", ended, err)
	}
	for i := 0; i < 3; i++ {
		again, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "bob"})
		if err != nil || !again.EndedAt.Equal(*ended.EndedAt) {
			t.Fatalf("expected no-op end, got %+v %v", again, err)
		}
	}

	hist, err := f.svc.ListSessions(ctx, "bob", 0)
	if err != nil || len(hist) != 1 || hist[0].Status != StatusEnded {
		t.Fatalf("unexpected history %+v %v", hist, err)
	}
}

// endingGateway ends the session between the status check and signing,
// the way a concurrent EndSession or session.ended webhook would.
type endingGateway struct {
	rooms.Gateway
	onValidate func()
}

func (g *endingGateway) ValidateRoom(ctx context.Context, roomID string) (bool, error) {
	if g.onValidate != nil {
		g.onValidate()
	}
	return g.Gateway.ValidateRoom(ctx, roomID)
}

func TestIssueToken_SessionEndedMidRequestIsConflict(t *testing.T) {
	for _, activeFirst := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()
		s := f.create(t)
		if activeFirst {
			if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher}); err != nil {
				t.Fatalf("first token: %v", err)
			}
		}

		gw := &endingGateway{Gateway: f.gw}
		gw.onValidate = func() {
			gw.onValidate = nil
			if _, err := f.svc.EndSession(ctx, EndRequest{SessionID: s.ID, ActorID: "alice"}); err != nil {
				t.Fatalf("end: %v", err)
			}
		}
		f.svc.rooms = gw

		res, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "alice", Role: rooms.RolePublisher})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("active=%v: expected ErrConflict, got %v", activeFirst, err)
		}
		if res.Token != "" {
			t.Fatalf("active=%v: token handed out for ended session", activeFirst)
		}
		got, _ := f.repo.Get(ctx, s.ID)
		if got.Status != StatusEnded {
			t.Fatalf("active=%v: expected ended, got %s", activeFirst, got.Status)
		}
	}
}

func TestIssueToken_MockRoomSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	// Same store, new process: the mock gateway has no memory of the room.
	f.svc.rooms = rooms.NewMockGateway(f.gw.Issuer())
	if _, err := f.svc.IssueToken(ctx, TokenRequest{SessionID: s.ID, UserID: "bob", Role: rooms.RolePublisher}); err != nil {
		t.Fatalf("token after restart: %v", err)
	}
	got, _ := f.repo.Get(ctx, s.ID)
	if got.Status != StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
}
