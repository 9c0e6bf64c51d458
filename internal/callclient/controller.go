package callclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/notify"
	"call-signaling/internal/rooms"
	"call-signaling/pkg/logger"
)

// API is the subset of the HTTP surface the controller drives.
type API interface {
	IssueToken(ctx context.Context, sessionID string, role rooms.Role) (TokenGrant, error)
	EndSession(ctx context.Context, sessionID string) (calls.CallSession, error)
	GetSession(ctx context.Context, sessionID string) (calls.SessionView, error)
}

// Media joins and leaves the provider room once a call is accepted.
type Media interface {
	Join(ctx context.Context, token string, video bool) error
	Leave() error
}

// Timer is the part of *time.Timer the controller uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests swap in a manual clock.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type ControllerOptions struct {
	Logger    *slog.Logger
	AfterFunc AfterFunc
	Now       func() time.Time
	// OnChange observes every state after a transition. Runs on the loop
	// goroutine; must not block.
	OnChange func(State)
	// OnError receives errors surfaced to the user.
	OnError func(error)
	// Unsubscribe is called once on Unmount (logout).
	Unsubscribe func()
}

// Controller runs Step on a single goroutine. Session pushes, the ring
// timer, user taps and network results all arrive as inputs on one
// channel, so only one transition runs at a time.
type Controller struct {
	self  string
	api   API
	media Media
	opts  ControllerOptions
	log   *slog.Logger

	inputs chan Input
	done   chan struct{}

	// loop-owned
	state State
	timer Timer
	ctx   context.Context

	mu       sync.Mutex
	snapshot State
	unsubOne sync.Once
}

func NewController(self string, api API, media Media, opts ControllerOptions) *Controller {
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		self:   self,
		api:    api,
		media:  media,
		opts:   opts,
		log:    logger.Component(opts.Logger, "call_controller").With("user_id", self),
		inputs: make(chan Input, 32),
		done:   make(chan struct{}),
	}
}

// Run consumes feed until ctx is done or feed closes. It unmounts on exit.
func (c *Controller) Run(ctx context.Context, feed <-chan notify.SessionChanged) error {
	c.ctx = ctx
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.apply(Unmount{})
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				c.apply(Unmount{})
				return nil
			}
			c.apply(SessionPushed{Event: ev, Now: c.opts.Now()})
		case in := <-c.inputs:
			c.apply(in)
			if _, ok := in.(Unmount); ok {
				return nil
			}
		}
	}
}

// Accept is a user tap. Ignored unless ringing.
func (c *Controller) Accept() { c.post(UserAccept{Now: c.opts.Now()}) }

// Reject is a user tap. Ignored unless ringing.
func (c *Controller) Reject() { c.post(UserReject{Now: c.opts.Now()}) }

func (c *Controller) Hangup() { c.post(Hangup{}) }

// Logout unmounts the controller and stops Run.
func (c *Controller) Logout() { c.post(Unmount{}) }

// State returns the latest state snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Controller) post(in Input) {
	select {
	case c.inputs <- in:
	case <-c.done:
	}
}

func (c *Controller) apply(in Input) {
	prev := c.state.Phase
	next, effects := Step(c.state, in, c.self)
	c.state = next

	c.mu.Lock()
	c.snapshot = next
	c.mu.Unlock()

	if prev != next.Phase {
		c.log.Debug("call state", "from", prev.String(), "to", next.Phase.String(), "session_id", next.Session.ID)
	}
	for _, e := range effects {
		c.execute(e)
	}
	if c.opts.OnChange != nil {
		c.opts.OnChange(next)
	}
}

// execute runs one effect. Timer effects are synchronous; network effects
// run on their own goroutine and report back through post.
func (c *Controller) execute(e Effect) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch e := e.(type) {
	case StartTimer:
		c.stopTimer()
		id := e.SessionID
		c.timer = c.opts.AfterFunc(e.After, func() {
			c.post(TimerFired{SessionID: id, Now: c.opts.Now()})
		})
	case CancelTimer:
		c.stopTimer()
	case FetchCaller:
		go func() {
			view, err := c.api.GetSession(ctx, e.SessionID)
			if err != nil {
				c.log.Warn("caller lookup failed", "session_id", e.SessionID, "err", err)
				return
			}
			c.post(CallerLoaded{SessionID: e.SessionID, Caller: view.Initiator})
		}()
	case IssueToken:
		go func() {
			grant, err := c.api.IssueToken(ctx, e.SessionID, rooms.RolePublisher)
			if err != nil {
				c.post(AcceptFailed{SessionID: e.SessionID, Err: err, Now: c.opts.Now()})
				return
			}
			c.post(AcceptSucceeded{SessionID: e.SessionID, Grant: grant})
		}()
	case EndSession:
		go func() {
			_, err := c.api.EndSession(ctx, e.SessionID)
			c.post(RejectDone{SessionID: e.SessionID, Err: err})
		}()
	case StartMedia:
		if c.media == nil {
			return
		}
		go func() {
			if err := c.media.Join(ctx, e.Grant.Token, e.Kind == calls.KindVideo); err != nil {
				c.report(err)
			}
		}()
	case StopMedia:
		if c.media == nil {
			return
		}
		go func() {
			if err := c.media.Leave(); err != nil {
				c.log.Warn("media leave failed", "err", err)
			}
		}()
	case ReportError:
		c.report(e.Err)
	case Unsubscribe:
		c.unsubOne.Do(func() {
			if c.opts.Unsubscribe != nil {
				c.opts.Unsubscribe()
			}
		})
	}
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	c.log.Warn("call action failed", "err", err)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
