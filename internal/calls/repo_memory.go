package calls

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// A single mutex gives it the same compare-and-set semantics as the
// Postgres UPDATE ... WHERE status = ANY(...) statements.
type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]*CallSession
	byRoom map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]*CallSession{}, byRoom: map[string]string{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, s CallSession) error {
	if err := validateNew(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return fmt.Errorf("%w: session %s exists", ErrConflict, s.ID)
	}
	if _, ok := r.byRoom[s.RoomID]; ok {
		return fmt.Errorf("%w: room %s already used", ErrConflict, s.RoomID)
	}
	row := clone(s)
	r.byID[s.ID] = &row
	r.byRoom[s.RoomID] = s.ID
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[id]
	if !ok {
		return CallSession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return clone(*row), nil
}

func (r *MemoryRepo) GetByRoomID(ctx context.Context, roomID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.lookup("", roomID)
	if err != nil {
		return CallSession{}, err
	}
	return clone(*row), nil
}

func (r *MemoryRepo) ListByParticipant(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0)
	for _, row := range r.byID {
		if row.IsParticipant(userID) {
			out = append(out, clone(*row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, req TransitionRequest) (CallSession, bool, error) {
	if err := req.validate(); err != nil {
		return CallSession{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup(req.SessionID, req.RoomID)
	if err != nil {
		return CallSession{}, false, err
	}

	if req.Event != "" {
		row.LastEvent = req.Event
		row.UpdatedAt = req.Now
	}
	if !req.allows(row.Status) {
		return clone(*row), false, nil
	}

	row.Status = req.To
	now := req.Now
	switch req.To {
	case StatusActive:
		if row.StartedAt == nil {
			row.StartedAt = &now
		}
	case StatusEnded:
		if row.EndedAt == nil {
			row.EndedAt = &now
		}
	}
	if req.RecordingURL != "" {
		row.RecordingURL = req.RecordingURL
	}
	if req.Summary != "" {
		row.Summary = req.Summary
	}
	row.UpdatedAt = req.Now
	return clone(*row), true, nil
}

func (r *MemoryRepo) RecordEvent(ctx context.Context, req EventUpdate) (CallSession, error) {
	if err := req.validate(); err != nil {
		return CallSession{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.lookup("", req.RoomID)
	if err != nil {
		return CallSession{}, err
	}
	row.LastEvent = req.Event
	if req.RecordingURL != "" {
		row.RecordingURL = req.RecordingURL
	}
	if req.RecordingDuration > 0 {
		row.RecordingDuration = req.RecordingDuration
	}
	row.UpdatedAt = req.Now
	return clone(*row), nil
}

// lookup requires r.mu.
func (r *MemoryRepo) lookup(id, roomID string) (*CallSession, error) {
	if id == "" {
		var ok bool
		id, ok = r.byRoom[roomID]
		if !ok {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
	}
	row, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return row, nil
}

// clone copies the timestamp pointers so callers never alias stored rows.
func clone(s CallSession) CallSession {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

var _ Repository = (*MemoryRepo)(nil)
