package api

import (
	"encoding/json"
	"testing"

	"github.com/infinity-portal/fleet-core/internal/fleet"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/infrastructure/logging"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "test")
	return NewHub(log)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := testHub(t)

	a := &WSClient{hub: hub, send: make(chan []byte, 1)}
	b := &WSClient{hub: hub, send: make(chan []byte, 1)}
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(fleet.Event{
		Type:   fleet.EventTheme,
		Device: fleet.Device{ID: "dev-1", Theme: "space"},
	})

	for _, client := range []*WSClient{a, b} {
		select {
		case data := <-client.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if msg.Type != WSTypeEvent {
				t.Errorf("type = %q", msg.Type)
			}
			if msg.EventType != string(fleet.EventTheme) {
				t.Errorf("event_type = %q", msg.EventType)
			}
		default:
			t.Error("client did not receive broadcast")
		}
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := testHub(t)

	slow := &WSClient{hub: hub, send: make(chan []byte)} // unbuffered, never drained
	hub.Register(slow)

	// Must not block even though nobody reads the channel.
	hub.Broadcast(fleet.Event{Type: fleet.EventOnline, Device: fleet.Device{ID: "dev-1"}})
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{hub: hub, send: make(chan []byte, 1)}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close the channel
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d", hub.ClientCount())
	}
}

func TestHub_BroadcastAfterUnregister(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{hub: hub, send: make(chan []byte, 1)}
	hub.Register(client)
	hub.Unregister(client)

	// trySend absorbs the closed channel.
	hub.Broadcast(fleet.Event{Type: fleet.EventOffline, Device: fleet.Device{ID: "dev-1"}})
}
