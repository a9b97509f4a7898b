package fleet

import (
	"time"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// Device is the hub's record of one fleet member.
type Device struct {
	// ID is the device identifier, taken from the topic the device
	// publishes on.
	ID string `json:"id"`

	// Metadata is the open registration payload (firmware version,
	// architecture, app name, whatever the device reported).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Theme is the last theme known for this device, either reported in a
	// status message or mirrored from a hub-side push.
	Theme string `json:"theme"`

	// Online is the liveness flag. Set by registration and status traffic,
	// cleared by the liveness sweep.
	Online bool `json:"online"`

	// Telemetry from the most recent status report.
	Uptime   float64 `json:"uptime"`
	FreeRAM  uint64  `json:"free_ram"`
	TotalRAM uint64  `json:"total_ram"`

	// SyncCount is the number of status reports recorded for this device.
	SyncCount uint64 `json:"sync_count"`

	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// DeepCopy creates a complete independent copy of the Device.
// The metadata map is cloned so modifications to the copy do not affect
// the registry's record.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields
	cpy.Metadata = deepCopyMap(d.Metadata)
	return &cpy
}

// EventType classifies a registry change notification.
type EventType string

// Registry change events.
const (
	EventRegistered EventType = "device_registered"
	EventStatus     EventType = "device_status"
	EventOnline     EventType = "device_online"
	EventOffline    EventType = "device_offline"
	EventTheme      EventType = "device_theme"
)

// Event describes a single registry mutation. Events are delivered to the
// OnChange hook outside the registry lock; the Device is a deep copy.
type Event struct {
	Type   EventType `json:"type"`
	Device Device    `json:"device"`
}

// Stats summarises the registry for monitoring endpoints.
type Stats struct {
	Total   int            `json:"total"`
	Online  int            `json:"online"`
	Offline int            `json:"offline"`
	ByTheme map[string]int `json:"by_theme"`
}

// newDevice creates a registry record for a first-time registration.
func newDevice(id string, metadata map[string]any, now time.Time) *Device {
	return &Device{
		ID:           id,
		Metadata:     deepCopyMap(metadata),
		Theme:        string(protocol.DefaultTheme),
		Online:       true,
		RegisteredAt: now,
		LastSeen:     now,
	}
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return val
	}
}
