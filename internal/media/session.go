package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"call-signaling/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is a local capture track. Stop ends capture; Close releases the
// device handle.
type Track interface {
	Kind() TrackKind
	Stop() error
	Close() error
}

// Devices hands out local capture tracks (mic, camera).
type Devices interface {
	AcquireAudio(ctx context.Context) (Track, error)
	AcquireVideo(ctx context.Context) (Track, error)
}

// Transport is the provider room connection.
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	Publish(ctx context.Context, t Track) error
	Unpublish(t Track) error
	Disconnect() error
	// Disconnected fires once when the remote side drops the connection.
	// It must be valid after Connect returns.
	Disconnected() <-chan error
}

var (
	ErrBusy      = errors.New("media: session already joined or joining")
	ErrNoToken   = errors.New("media: join token is required")
	ErrAudioOnly = errors.New("media: video unavailable, continuing with audio only")
)

type Options struct {
	Logger *slog.Logger
	// OnDegraded is told when video could not start and the call went on with
	// audio only.
	OnDegraded func(error)
	// OnRemoteLeave is told after a remote disconnect has been torn down.
	OnRemoteLeave func(error)
}

// Session joins one provider room at a time. Leave releases in strict
// reverse order of acquisition on every path, including failed joins and
// remote disconnects, so capture devices are never left open.
type Session struct {
	url       string
	transport Transport
	devices   Devices
	opts      Options
	log       *slog.Logger

	mu        sync.Mutex
	state     State
	audio     *slot
	video     *slot
	joined    bool // transport connected
	cancelled bool // Leave arrived during Join
	stop      chan struct{}
}

// slot tracks how far a local track got so teardown undoes only that.
type slot struct {
	track     Track
	published bool
}

func NewSession(url string, transport Transport, devices Devices, opts Options) *Session {
	return &Session{
		url:       url,
		transport: transport,
		devices:   devices,
		opts:      opts,
		log:       logger.Component(opts.Logger, "media"),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VideoPublished reports whether a video track is live.
func (s *Session) VideoPublished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil && s.video.published
}

// Join connects with token, publishes audio, then video when asked.
// Audio failure aborts and releases everything acquired so far. Video
// failure degrades to audio only and Join still succeeds.
func (s *Session) Join(ctx context.Context, token string, video bool) error {
	if token == "" {
		return ErrNoToken
	}
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateJoining
	s.cancelled = false
	s.mu.Unlock()

	log := s.log.With("video", video)

	if err := s.transport.Connect(ctx, s.url, token); err != nil {
		s.abort()
		return fmt.Errorf("media: connect: %w", err)
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	if s.leaveRequested() {
		s.abort()
		return context.Canceled
	}

	if err := s.publish(ctx, TrackAudio); err != nil {
		log.Warn("audio publish failed, leaving room", "err", err)
		s.abort()
		return fmt.Errorf("media: audio: %w", err)
	}

	if video && !s.leaveRequested() {
		if err := s.publish(ctx, TrackVideo); err != nil {
			log.Warn("video publish failed, continuing audio only", "err", err)
			s.releaseVideo()
			if s.opts.OnDegraded != nil {
				s.opts.OnDegraded(fmt.Errorf("%w: %v", ErrAudioOnly, err))
			}
		}
	}

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		s.abort()
		return context.Canceled
	}
	s.state = StateJoined
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	go s.watch(stop, s.transport.Disconnected())
	log.Info("joined room")
	return nil
}

// Leave is idempotent and always runs every release step. A Leave during
// Join makes Join release what it acquired and return context.Canceled.
func (s *Session) Leave() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateLeaving:
		s.mu.Unlock()
		return nil
	case StateJoining:
		s.cancelled = true
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	s.mu.Unlock()

	err := s.teardown()
	s.log.Info("left room")
	return err
}

func (s *Session) publish(ctx context.Context, kind TrackKind) error {
	var (
		t   Track
		err error
	)
	if kind == TrackVideo {
		t, err = s.devices.AcquireVideo(ctx)
	} else {
		t, err = s.devices.AcquireAudio(ctx)
	}
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	sl := &slot{track: t}
	s.mu.Lock()
	if kind == TrackVideo {
		s.video = sl
	} else {
		s.audio = sl
	}
	s.mu.Unlock()

	if err := s.transport.Publish(ctx, t); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	s.mu.Lock()
	sl.published = true
	s.mu.Unlock()
	return nil
}

func (s *Session) leaveRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// watch tears down when the remote side drops the connection. stop closes
// on any local teardown.
func (s *Session) watch(stop <-chan struct{}, dropped <-chan error) {
	var cause error
	select {
	case <-stop:
		return
	case cause = <-dropped:
	}
	if cause == nil {
		cause = errors.New("transport closed")
	}

	s.mu.Lock()
	if s.stop != stop || s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	s.mu.Unlock()

	s.log.Warn("remote disconnect", "err", cause)
	if err := s.teardown(); err != nil {
		s.log.Warn("release after remote disconnect", "err", err)
	}
	if s.opts.OnRemoteLeave != nil {
		s.opts.OnRemoteLeave(cause)
	}
}

// abort undoes a partial join. State ends Disconnected.
func (s *Session) abort() {
	s.mu.Lock()
	s.state = StateLeaving
	s.mu.Unlock()
	if err := s.teardown(); err != nil {
		s.log.Warn("release after failed join", "err", err)
	}
}

// teardown releases video, then audio, then the transport.
func (s *Session) teardown() error {
	s.mu.Lock()
	video, audio, joined := s.video, s.audio, s.joined
	s.video, s.audio, s.joined = nil, nil, false
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	var errs []error
	errs = append(errs, s.release(video)...)
	errs = append(errs, s.release(audio)...)
	if joined {
		if err := s.transport.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.cancelled = false
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *Session) releaseVideo() {
	s.mu.Lock()
	video := s.video
	s.video = nil
	s.mu.Unlock()
	if errs := s.release(video); len(errs) > 0 {
		s.log.Warn("release video", "err", errors.Join(errs...))
	}
}

func (s *Session) release(sl *slot) []error {
	if sl == nil {
		return nil
	}
	var errs []error
	kind := sl.track.Kind()
	if sl.published {
		if err := s.transport.Unpublish(sl.track); err != nil {
			errs = append(errs, fmt.Errorf("unpublish %s: %w", kind, err))
		}
	}
	if err := sl.track.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop %s: %w", kind, err))
	}
	if err := sl.track.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
	}
	return errs
}
