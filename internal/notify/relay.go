package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"call-signaling/internal/calls"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const RelayChannel = "call_sessions:changes"

// relayEnvelope is what goes over Redis pub/sub.
type relayEnvelope struct {
	Origin  string            `json:"origin"`
	Change  calls.ChangeKind  `json:"change"`
	Session calls.CallSession `json:"session"`
}

// RedisRelay shares session changes between API instances so a websocket
// client sees rows mutated by any instance. Local changes are delivered
// locally by the Bus; the relay only re-delivers changes from other origins.
type RedisRelay struct {
	client     *redis.Client
	bus        *Bus
	log        *slog.Logger
	instanceID string
	channel    string
}

func NewRedisRelay(client *redis.Client, bus *Bus, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{
		client:     client,
		bus:        bus,
		log:        log,
		instanceID: uuid.NewString(),
		channel:    RelayChannel,
	}
}

// Forward implements Forwarder. Failures are logged; local delivery already
// happened.
func (r *RedisRelay) Forward(ctx context.Context, ev SessionChanged) {
	b, err := json.Marshal(relayEnvelope{Origin: r.instanceID, Change: ev.Change, Session: ev.Session})
	if err != nil {
		r.log.Error("relay marshal failed", "err", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pctx, r.channel, b).Err(); err != nil {
		r.log.Warn("relay publish failed", "session_id", ev.Session.ID, "err", err)
	}
}

// Run consumes remote changes until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed so startup errors surface.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.log.Info("relay subscribed", "channel", r.channel, "instance_id", r.instanceID)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handleMessage(msg.Payload); err != nil {
				r.log.Warn("relay message dropped", "err", err)
			}
		}
	}
}

func (r *RedisRelay) handleMessage(payload string) error {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	if env.Origin == r.instanceID {
		return nil
	}
	if env.Session.ID == "" {
		return fmt.Errorf("relay envelope without session")
	}
	r.bus.Deliver(SessionChanged{Session: env.Session, Change: env.Change})
	return nil
}

var _ Forwarder = (*RedisRelay)(nil)
