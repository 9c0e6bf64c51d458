package calls

import "context"

// Publisher receives every committed row mutation. Implementations must not
// block the caller (see notify.Bus).
type Publisher interface {
	Publish(ctx context.Context, s CallSession, change ChangeKind)
}

// PublishingRepo turns a Repository into the session change feed: every
// successful write is published after it returns. The orchestrator and the
// webhook ingestor never push notifications themselves.
type PublishingRepo struct {
	Repository
	pub Publisher
}

func NewPublishingRepo(repo Repository, pub Publisher) *PublishingRepo {
	return &PublishingRepo{Repository: repo, pub: pub}
}

func (r *PublishingRepo) Insert(ctx context.Context, s CallSession) error {
	if err := r.Repository.Insert(ctx, s); err != nil {
		return err
	}
	r.pub.Publish(ctx, s, ChangeInsert)
	return nil
}

func (r *PublishingRepo) Transition(ctx context.Context, req TransitionRequest) (CallSession, bool, error) {
	s, applied, err := r.Repository.Transition(ctx, req)
	if err != nil {
		return s, applied, err
	}
	// A rejected transition still wrote last_event when an event was given.
	if applied || req.Event != "" {
		r.pub.Publish(ctx, s, ChangeUpdate)
	}
	return s, applied, nil
}

func (r *PublishingRepo) RecordEvent(ctx context.Context, req EventUpdate) (CallSession, error) {
	s, err := r.Repository.RecordEvent(ctx, req)
	if err != nil {
		return s, err
	}
	r.pub.Publish(ctx, s, ChangeUpdate)
	return s, nil
}

var _ Repository = (*PublishingRepo)(nil)
