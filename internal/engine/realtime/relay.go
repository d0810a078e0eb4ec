package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "bizdash/internal/pkg/errors"
	"bizdash/internal/platform/config"
)

// publishTimeout bounds a Redis publish so a slow broker cannot hold up the
// webhook response.
const publishTimeout = 500 * time.Millisecond

// relayMessage is what travels over the Redis channel between instances.
type relayMessage struct {
	Origin   string          `json:"origin"`
	TenantID string          `json:"tenantId"`
	Type     string          `json:"type"`
	Frame    json.RawMessage `json:"frame"`
}

// RedisRelay shares tenant rooms across server instances. Publish goes to
// Redis; Serve feeds every message, including this instance's own, into the
// local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	origin  string
	timeout time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		timeout: publishTimeout,
	}
}

func (r *RedisRelay) String() string { return "redis-relay" }

// Publish sends the event through Redis. When Redis is unreachable the event
// is still delivered to this instance's sessions and the failure is returned
// as transient.
func (r *RedisRelay) Publish(ctx context.Context, tenantID string, event Event) error {
	frame, err := encode(event)
	if err != nil {
		return &apperrors.TransientDeliveryError{Op: "encode " + event.Type, Err: err}
	}
	payload, err := json.Marshal(relayMessage{Origin: r.origin, TenantID: tenantID, Type: event.Type, Frame: frame})
	if err != nil {
		return &apperrors.TransientDeliveryError{Op: "encode " + event.Type, Err: err}
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		if localErr := r.hub.publishFrame(tenantID, event.Type, frame); localErr != nil {
			log.Warn().Err(localErr).Str("tenant_id", tenantID).Msg("Local fallback publish failed")
		}
		return &apperrors.TransientDeliveryError{Op: "relay " + event.Type, Err: err}
	}
	return nil
}

// Serve subscribes to the relay channel until ctx is cancelled.
func (r *RedisRelay) Serve(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Msg("Realtime relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.channel)
			}
			r.dispatch(msg.Payload)
		}
	}
}

func (r *RedisRelay) dispatch(payload string) {
	m, err := decodeRelayMessage(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed relay message")
		return
	}
	log.Debug().Str("tenant_id", m.TenantID).Str("event", m.Type).Bool("local", m.Origin == r.origin).Msg("Relay message")
	if err := r.hub.publishFrame(m.TenantID, m.Type, m.Frame); err != nil {
		log.Warn().Err(err).Str("tenant_id", m.TenantID).Str("event", m.Type).Msg("Relay delivery failed")
	}
}

func decodeRelayMessage(payload string) (*relayMessage, error) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, err
	}
	if m.TenantID == "" || m.Type == "" || len(m.Frame) == 0 {
		return nil, fmt.Errorf("relay message missing fields")
	}
	return &m, nil
}
