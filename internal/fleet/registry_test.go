package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// mockStore implements Store in memory and records every Save call.
type mockStore struct {
	mu      sync.Mutex
	saves   []Device
	devices []Device // returned by LoadAll
	saveErr error
}

func (m *mockStore) Save(ctx context.Context, device Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, device)
	return nil
}

func (m *mockStore) LoadAll(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Device(nil), m.devices...), nil
}

func (m *mockStore) savedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.saves))
	for i, d := range m.saves {
		ids[i] = d.ID
	}
	return ids
}

func TestRegister_NewDevice(t *testing.T) {
	r := NewRegistry(nil)

	d := r.Register("esp32-abc", map[string]any{"fw": "1.0.0"})

	if d.ID != "esp32-abc" {
		t.Errorf("ID = %q", d.ID)
	}
	if !d.Online {
		t.Error("new device should be online")
	}
	if d.SyncCount != 0 {
		t.Errorf("SyncCount = %d, want 0", d.SyncCount)
	}
	if d.Theme != string(protocol.DefaultTheme) {
		t.Errorf("Theme = %q, want default", d.Theme)
	}
	if d.RegisteredAt.IsZero() || d.LastSeen.IsZero() {
		t.Error("timestamps not set")
	}
	if d.Metadata["fw"] != "1.0.0" {
		t.Errorf("Metadata = %v", d.Metadata)
	}
}

func TestRegister_IdempotentUpsert(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Register("esp32-abc", map[string]any{"fw": "1.0.0", "arch": "xtensa"})
	r.MarkOffline("esp32-abc")

	second := r.Register("esp32-abc", map[string]any{"fw": "1.1.0"})

	if !second.RegisteredAt.Equal(first.RegisteredAt) {
		t.Error("re-registration must preserve RegisteredAt")
	}
	if !second.Online {
		t.Error("re-registration must mark device online")
	}
	if second.Metadata["fw"] != "1.1.0" {
		t.Errorf("fw = %v, want merged 1.1.0", second.Metadata["fw"])
	}
	if second.Metadata["arch"] != "xtensa" {
		t.Errorf("arch = %v, want preserved xtensa", second.Metadata["arch"])
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRecordStatus_UnknownDevice(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.RecordStatus("ghost", protocol.StatusPayload{Theme: "rock"})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}

	// Status must never auto-register.
	if r.Count() != 0 {
		t.Errorf("Count() = %d after dropped status, want 0", r.Count())
	}
}

func TestRecordStatus_MergesTelemetry(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("esp32-abc", nil)
	r.MarkOffline("esp32-abc")

	d, err := r.RecordStatus("esp32-abc", protocol.StatusPayload{
		Theme:    "space",
		Uptime:   123.5,
		FreeRAM:  80_000,
		TotalRAM: 320_000,
	})
	if err != nil {
		t.Fatalf("RecordStatus: %v", err)
	}

	if d.Theme != "space" {
		t.Errorf("Theme = %q", d.Theme)
	}
	if d.Uptime != 123.5 || d.FreeRAM != 80_000 || d.TotalRAM != 320_000 {
		t.Errorf("telemetry = %+v", d)
	}
	if d.SyncCount != 1 {
		t.Errorf("SyncCount = %d, want 1", d.SyncCount)
	}
	if !d.Online {
		t.Error("status must mark device online")
	}

	d, _ = r.RecordStatus("esp32-abc", protocol.StatusPayload{})
	if d.SyncCount != 2 {
		t.Errorf("SyncCount = %d after second status, want 2", d.SyncCount)
	}
	if d.Theme != "space" {
		t.Errorf("empty status theme must not clear recorded theme, got %q", d.Theme)
	}
}

func TestList_InsertionOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("c", nil)
	r.Register("a", nil)
	r.Register("b", nil)
	r.Register("a", nil) // re-registration must not move position

	got := r.List()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("List() len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List()[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("esp32-abc", map[string]any{"fw": "1.0.0"})

	d, ok := r.Get("esp32-abc")
	if !ok {
		t.Fatal("Get() = false")
	}

	d.Metadata["fw"] = "tampered"
	d.Theme = "tampered"

	fresh, _ := r.Get("esp32-abc")
	if fresh.Metadata["fw"] != "1.0.0" {
		t.Error("mutating a returned device leaked into the registry")
	}
	if fresh.Theme == "tampered" {
		t.Error("mutating a returned device leaked into the registry")
	}
}

func TestMarkOfflineOnline(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("esp32-abc", nil)

	if !r.MarkOffline("esp32-abc") {
		t.Error("MarkOffline known device = false")
	}
	if r.OnlineCount() != 0 {
		t.Errorf("OnlineCount() = %d, want 0", r.OnlineCount())
	}

	if !r.MarkOnline("esp32-abc") {
		t.Error("MarkOnline known device = false")
	}
	if r.OnlineCount() != 1 {
		t.Errorf("OnlineCount() = %d, want 1", r.OnlineCount())
	}

	if r.MarkOffline("ghost") {
		t.Error("MarkOffline unknown device = true")
	}
	if r.MarkOnline("ghost") {
		t.Error("MarkOnline unknown device = true")
	}
}

func TestSetTheme(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("esp32-abc", nil)
	r.MarkOffline("esp32-abc")

	if !r.SetTheme("esp32-abc", "biology") {
		t.Fatal("SetTheme known device = false")
	}

	d, _ := r.Get("esp32-abc")
	if d.Theme != "biology" {
		t.Errorf("Theme = %q", d.Theme)
	}
	if d.Online {
		t.Error("SetTheme must not touch liveness state")
	}

	if r.SetTheme("ghost", "rock") {
		t.Error("SetTheme unknown device = true")
	}
}

func TestMarkStale_SingleNow(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("fresh", nil)
	r.Register("stale", nil)

	// Age one device past the timeout.
	r.mu.Lock()
	r.devices["stale"].LastSeen = time.Now().UTC().Add(-10 * time.Minute)
	r.mu.Unlock()

	demoted := r.MarkStale(5*time.Minute, time.Now().UTC())

	if len(demoted) != 1 || demoted[0].ID != "stale" {
		t.Fatalf("demoted = %v", demoted)
	}

	d, _ := r.Get("stale")
	if d.Online {
		t.Error("stale device still online")
	}
	if d.LastSeen.IsZero() {
		t.Error("demotion must not clear LastSeen")
	}

	fresh, _ := r.Get("fresh")
	if !fresh.Online {
		t.Error("fresh device demoted")
	}

	// Second sweep is idempotent.
	if again := r.MarkStale(5*time.Minute, time.Now().UTC()); len(again) != 0 {
		t.Errorf("second sweep demoted %d devices, want 0", len(again))
	}
}

func TestGetStats(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", nil)
	r.Register("b", nil)
	r.SetTheme("b", "rock")
	r.MarkOffline("b")

	stats := r.GetStats()
	if stats.Total != 2 || stats.Online != 1 || stats.Offline != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByTheme["rock"] != 1 {
		t.Errorf("ByTheme = %v", stats.ByTheme)
	}
}

func TestOnChange_Events(t *testing.T) {
	r := NewRegistry(nil)

	var mu sync.Mutex
	var events []EventType
	r.SetOnChange(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	r.Register("esp32-abc", nil)
	r.RecordStatus("esp32-abc", protocol.StatusPayload{}) //nolint:errcheck
	r.SetTheme("esp32-abc", "art")
	r.MarkOffline("esp32-abc")
	r.MarkOffline("esp32-abc") // no transition, no event

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventRegistered, EventStatus, EventTheme, EventOffline}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestPersist_FireAndForget(t *testing.T) {
	store := &mockStore{}
	r := NewRegistry(store)

	r.Register("esp32-abc", nil)
	r.RecordStatus("esp32-abc", protocol.StatusPayload{}) //nolint:errcheck
	r.Close()

	ids := store.savedIDs()
	if len(ids) != 2 {
		t.Fatalf("saved %d snapshots, want 2", len(ids))
	}
}

func TestPersist_FailureDoesNotRollBack(t *testing.T) {
	store := &mockStore{saveErr: errors.New("disk full")}
	r := NewRegistry(store)

	r.Register("esp32-abc", nil)
	r.Close()

	// The in-memory record survives even though every save failed.
	if _, ok := r.Get("esp32-abc"); !ok {
		t.Error("store failure must not roll back the registry")
	}
}

func TestLoad_MarksOffline(t *testing.T) {
	store := &mockStore{devices: []Device{
		{ID: "a", Theme: "mario", Online: true, RegisteredAt: time.Now(), LastSeen: time.Now()},
		{ID: "b", Theme: "rock", Online: true, RegisteredAt: time.Now(), LastSeen: time.Now()},
	}}
	r := NewRegistry(store)

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if r.OnlineCount() != 0 {
		t.Errorf("OnlineCount() = %d, want 0: loaded devices must start offline", r.OnlineCount())
	}
}
