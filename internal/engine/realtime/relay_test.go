package realtime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "bizdash/internal/pkg/errors"
)

func TestDecodeRelayMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"origin":"x","tenantId":"tnt_a","type":"new-notification","frame":{"type":"new-notification"}}`, false},
		{"missing tenant", `{"origin":"x","type":"new-notification","frame":{}}`, true},
		{"missing frame", `{"origin":"x","tenantId":"tnt_a","type":"ping"}`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRelayMessage(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeRelayMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedisRelay_FallsBackToLocalHub(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	hub := NewHub(HubOptions{BroadcastBuffer: 4})
	relay := NewRedisRelay(client, "bizdash:test", hub)

	err := relay.Publish(context.Background(), "tnt_a", Event{Type: EventNewNotification, Data: map[string]string{"id": "ntf_1"}})
	if !apperrors.IsTransient(err) {
		t.Fatalf("Publish() = %v, want transient error", err)
	}
	if got := len(hub.broadcast); got != 1 {
		t.Errorf("local hub queue = %d, want 1", got)
	}
}

func TestRedisRelay_PublishIsBounded(t *testing.T) {
	// accepts connections and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	defer client.Close()

	hub := NewHub(HubOptions{BroadcastBuffer: 4})
	relay := NewRedisRelay(client, "bizdash:test", hub)
	relay.timeout = 100 * time.Millisecond

	start := time.Now()
	err = relay.Publish(context.Background(), "tnt_a", Event{Type: EventNewNotification})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish() took %v against a stalled broker", elapsed)
	}
	if !apperrors.IsTransient(err) {
		t.Fatalf("Publish() = %v, want transient error", err)
	}
	if got := len(hub.broadcast); got != 1 {
		t.Errorf("local hub queue = %d, want 1", got)
	}
}
