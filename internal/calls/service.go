package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/profiles"
	"call-signaling/internal/rooms"
	"call-signaling/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the session orchestrator. Outside the webhook path it is the
// only writer of session status.
type Service struct {
	repo     Repository
	rooms    rooms.Gateway
	profiles profiles.Directory
	audit    *audit.Service

	log   *slog.Logger
	clock func() time.Time
	newID func() string

	tokenTTL   time.Duration
	templateID string
	region     string
}

type Options struct {
	// Audit is optional; audit writes are best-effort either way.
	Audit  *audit.Service
	Logger *slog.Logger

	TokenTTL   time.Duration
	TemplateID string
	Region     string
}

func NewService(repo Repository, gw rooms.Gateway, dir profiles.Directory, opts Options) *Service {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Service{
		repo:       repo,
		rooms:      gw,
		profiles:   dir,
		audit:      opts.Audit,
		log:        l,
		clock:      time.Now,
		newID:      uuid.NewString,
		tokenTTL:   opts.TokenTTL,
		templateID: opts.TemplateID,
		region:     opts.Region,
	}
}

/* ===================== CREATE ===================== */

type CreateRequest struct {
	InitiatorID string
	ReceiverID  string
	Kind        Kind
	TemplateID  string
	Region      string
}

// CreateSession provisions a room and then inserts a pending session.
// A provisioning failure persists nothing and is safe to retry.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (CallSession, rooms.Room, error) {
	req.InitiatorID = strings.TrimSpace(req.InitiatorID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.Kind == "" {
		req.Kind = KindAudio
	}
	if req.InitiatorID == "" {
		return CallSession{}, rooms.Room{}, fmt.Errorf("%w: initiator required", ErrValidation)
	}
	if req.ReceiverID == "" {
		return CallSession{}, rooms.Room{}, fmt.Errorf("%w: receiver_id required", ErrValidation)
	}
	if req.ReceiverID == req.InitiatorID {
		return CallSession{}, rooms.Room{}, fmt.Errorf("%w: cannot call yourself", ErrValidation)
	}
	if !req.Kind.Valid() {
		return CallSession{}, rooms.Room{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}

	if _, err := s.profiles.Lookup(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return CallSession{}, rooms.Room{}, fmt.Errorf("%w: receiver %s", ErrNotFound, req.ReceiverID)
		}
		return CallSession{}, rooms.Room{}, fmt.Errorf("receiver lookup: %w", err)
	}

	id := s.newID()
	room, err := s.rooms.CreateRoom(ctx, rooms.CreateRoomRequest{
		Name:        "call-" + id,
		Description: fmt.Sprintf("%s call %s", req.Kind, id),
		TemplateID:  firstNonEmpty(req.TemplateID, s.templateID),
		Region:      firstNonEmpty(req.Region, s.region),
	})
	if err != nil {
		return CallSession{}, rooms.Room{}, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	now := s.clock().UTC()
	sess := CallSession{
		ID:          id,
		Kind:        req.Kind,
		InitiatorID: req.InitiatorID,
		ReceiverID:  req.ReceiverID,
		RoomID:      room.ID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return CallSession{}, rooms.Room{}, err
	}

	s.logAudit(ctx, s.audit.LogCreated(ctx, sess.ID, req.InitiatorID, string(sess.Kind)))
	return sess, room, nil
}

/* ===================== TOKEN ===================== */

// TokenRequest resolves the session by SessionID, or by RoomID when
// SessionID is empty.
type TokenRequest struct {
	SessionID   string
	RoomID      string
	UserID      string
	Role        rooms.Role
	DisplayName string
}

type TokenResult struct {
	Token     string      `json:"token"`
	RoomID    string      `json:"room_id"`
	SessionID string      `json:"session_id"`
	Session   CallSession `json:"-"`
}

// IssueToken signs a join token for a participant. The first issuance on a
// pending session marks it active; started_at is only ever set once.
func (s *Service) IssueToken(ctx context.Context, req TokenRequest) (TokenResult, error) {
	if req.UserID == "" {
		return TokenResult{}, fmt.Errorf("%w: user required", ErrValidation)
	}
	if !req.Role.Valid() {
		return TokenResult{}, fmt.Errorf("%w: role must be publisher or subscriber", ErrValidation)
	}

	var sess CallSession
	var err error
	switch {
	case req.SessionID != "":
		sess, err = s.repo.Get(ctx, req.SessionID)
	case req.RoomID != "":
		sess, err = s.repo.GetByRoomID(ctx, req.RoomID)
	default:
		return TokenResult{}, fmt.Errorf("%w: session_id or room_id required", ErrValidation)
	}
	if err != nil {
		return TokenResult{}, err
	}
	if !sess.IsParticipant(req.UserID) {
		return TokenResult{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if sess.Status.Terminal() {
		return TokenResult{}, fmt.Errorf("%w: session %s", ErrConflict, sess.Status)
	}

	ok, err := s.rooms.ValidateRoom(ctx, sess.RoomID)
	if err != nil {
		return TokenResult{}, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if !ok {
		s.failStaleRoom(ctx, sess, req.UserID)
		return TokenResult{}, fmt.Errorf("%w: room %s", ErrNotFound, sess.RoomID)
	}

	name := req.DisplayName
	if name == "" {
		if p, err := s.profiles.Lookup(ctx, req.UserID); err == nil {
			name = p.DisplayName
		}
	}
	tok, err := s.rooms.IssueToken(ctx, rooms.JoinTokenRequest{
		RoomID:      sess.RoomID,
		UserID:      req.UserID,
		Role:        req.Role,
		DisplayName: name,
		TTL:         s.tokenTTL,
	})
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidRole) || errors.Is(err, rooms.ErrInvalidRequest) {
			return TokenResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return TokenResult{}, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	// The session may have ended since it was read. Only hand the token
	// out if the row is still live after signing.
	if sess.Status == StatusPending {
		updated, applied, err := s.repo.Transition(ctx, TransitionRequest{
			SessionID: sess.ID,
			From:      []Status{StatusPending},
			To:        StatusActive,
			Now:       s.clock().UTC(),
		})
		if err != nil {
			return TokenResult{}, err
		}
		if applied {
			s.logAudit(ctx, s.audit.LogTransition(ctx, sess.ID, req.UserID, string(StatusPending), string(StatusActive), ""))
		}
		sess = updated
	} else {
		sess, err = s.repo.Get(ctx, sess.ID)
		if err != nil {
			return TokenResult{}, err
		}
	}
	if sess.Status.Terminal() {
		return TokenResult{}, fmt.Errorf("%w: session %s", ErrConflict, sess.Status)
	}

	s.logAudit(ctx, s.audit.LogTokenIssued(ctx, sess.ID, req.UserID, string(req.Role)))
	return TokenResult{Token: tok, RoomID: sess.RoomID, SessionID: sess.ID, Session: sess}, nil
}

// failStaleRoom moves a pending session whose room disappeared to failed.
func (s *Service) failStaleRoom(ctx context.Context, sess CallSession, actorID string) {
	if sess.Status != StatusPending {
		return
	}
	_, applied, err := s.repo.Transition(ctx, TransitionRequest{
		SessionID: sess.ID,
		From:      []Status{StatusPending},
		To:        StatusFailed,
		Now:       s.clock().UTC(),
	})
	if err != nil {
		logger.FromOr(ctx, s.log).Warn("mark session failed", "session_id", sess.ID, "err", err)
		return
	}
	if applied {
		s.logAudit(ctx, s.audit.LogTransition(ctx, sess.ID, actorID, string(StatusPending), string(StatusFailed), ""))
	}
}

/* ===================== END ===================== */

type EndRequest struct {
	SessionID    string
	ActorID      string
	RecordingURL string
	Summary      string
}

// EndSession is idempotent: ending a terminal session returns it unchanged.
func (s *Service) EndSession(ctx context.Context, req EndRequest) (CallSession, error) {
	if req.SessionID == "" {
		return CallSession{}, fmt.Errorf("%w: session_id required", ErrValidation)
	}
	sess, err := s.repo.Get(ctx, req.SessionID)
	if err != nil {
		return CallSession{}, err
	}
	if !sess.IsParticipant(req.ActorID) {
		return CallSession{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	updated, applied, err := s.repo.Transition(ctx, TransitionRequest{
		SessionID:    sess.ID,
		From:         []Status{StatusPending, StatusActive},
		To:           StatusEnded,
		RecordingURL: req.RecordingURL,
		Summary:      req.Summary,
		Now:          s.clock().UTC(),
	})
	if err != nil {
		return CallSession{}, err
	}
	if applied {
		s.logAudit(ctx, s.audit.LogTransition(ctx, sess.ID, req.ActorID, string(sess.Status), string(StatusEnded), ""))
	}
	return updated, nil
}

/* ===================== READ ===================== */

// SessionView is a session row joined with participant display info.
type SessionView struct {
	CallSession
	Initiator profiles.Profile `json:"initiator"`
	Receiver  profiles.Profile `json:"receiver"`
}

func (s *Service) GetSession(ctx context.Context, sessionID, actorID string) (SessionView, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if !sess.IsParticipant(actorID) {
		return SessionView{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return SessionView{
		CallSession: sess,
		Initiator:   s.profile(ctx, sess.InitiatorID),
		Receiver:    s.profile(ctx, sess.ReceiverID),
	}, nil
}

// ListSessions returns the actor's call history, newest first.
func (s *Service) ListSessions(ctx context.Context, actorID string, limit int) ([]CallSession, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: user required", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByParticipant(ctx, actorID, limit)
}

// profile degrades to the bare id when the directory has nothing.
func (s *Service) profile(ctx context.Context, userID string) profiles.Profile {
	p, err := s.profiles.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, profiles.ErrNotFound) {
			logger.FromOr(ctx, s.log).Warn("profile lookup failed", "user_id", userID, "err", err)
		}
		return profiles.Profile{ID: userID}
	}
	return p
}

func (s *Service) logAudit(ctx context.Context, err error) {
	if err != nil && s.audit != nil {
		logger.FromOr(ctx, s.log).Warn("audit append failed", "err", err)
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
