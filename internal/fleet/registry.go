package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// Persistence side-channel tuning.
const (
	// persistTimeout bounds a single device snapshot write, retries included.
	persistTimeout = 10 * time.Second

	// persistAttempts is the retry budget for one snapshot write.
	persistAttempts = 3

	// persistInitialBackoff is the delay before the first retry.
	persistInitialBackoff = 100 * time.Millisecond

	// persistMaxBackoff caps the exponential backoff between retries.
	persistMaxBackoff = 2 * time.Second
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory device map.
//
// All public methods are thread-safe behind a single mutex. No method
// performs I/O while holding the lock, and no method blocks on broker or
// network I/O at all: persistence happens on a fire-and-forget goroutine
// after the in-memory mutation has already succeeded.
//
// List order follows first registration.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string // device IDs in insertion order

	store Store // optional persistence side channel

	onChange func(Event)
	hookMu   sync.RWMutex

	logger Logger

	// wg tracks in-flight persistence goroutines so Close can drain them.
	wg sync.WaitGroup
}

// NewRegistry creates a registry. The store may be nil, in which case
// mutations are memory-only.
func NewRegistry(store Store) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		store:   store,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnChange registers a hook invoked after every registry mutation.
// The hook runs outside the registry lock and receives a deep copy, so it
// may block or call back into the registry safely.
func (r *Registry) SetOnChange(fn func(Event)) {
	r.hookMu.Lock()
	r.onChange = fn
	r.hookMu.Unlock()
}

// Load populates the registry from the store. Loaded devices are marked
// offline regardless of their persisted flag: they re-announce themselves
// through register or status traffic once they are actually reachable.
//
// This should be called once on hub startup, before traffic starts.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	devices, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for i := range devices {
		d := devices[i].DeepCopy()
		d.Online = false
		if _, exists := r.devices[d.ID]; !exists {
			r.order = append(r.order, d.ID)
		}
		r.devices[d.ID] = d
	}
	count := len(r.devices)
	r.mu.Unlock()

	r.logger.Info("registry loaded from store", "count", count)
	return nil
}

// Register creates or updates a device record. It is an idempotent upsert:
// a first registration creates the record online with a fresh RegisteredAt;
// a repeat registration merges the new metadata into the existing record,
// marks it online, and bumps LastSeen. RegisteredAt and SyncCount survive
// re-registration.
//
// The returned device is a deep copy.
func (r *Registry) Register(id string, metadata map[string]any) *Device {
	now := time.Now().UTC()

	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		d = newDevice(id, metadata, now)
		r.devices[id] = d
		r.order = append(r.order, id)
	} else {
		if d.Metadata == nil && len(metadata) > 0 {
			d.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			d.Metadata[k] = deepCopyValue(v)
		}
		d.Online = true
		d.LastSeen = now
	}
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	if exists {
		r.logger.Debug("device re-registered", "device_id", id)
	} else {
		r.logger.Info("device registered", "device_id", id)
	}

	r.notify(Event{Type: EventRegistered, Device: *snapshot})
	r.persist(snapshot)
	return snapshot
}

// RecordStatus merges a status report into the device record. Reports from
// unknown devices are rejected with ErrDeviceNotFound; status never
// auto-registers a device.
//
// On success the device's telemetry is replaced, SyncCount increments, the
// device is marked online, and LastSeen is bumped. The returned device is a
// deep copy.
func (r *Registry) RecordStatus(id string, status protocol.StatusPayload) (*Device, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return nil, ErrDeviceNotFound
	}

	if status.Theme != "" {
		d.Theme = status.Theme
	}
	d.Uptime = status.Uptime
	d.FreeRAM = status.FreeRAM
	d.TotalRAM = status.TotalRAM
	d.SyncCount++
	d.Online = true
	d.LastSeen = now
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	r.logger.Debug("status recorded",
		"device_id", id,
		"theme", snapshot.Theme,
		"sync_count", snapshot.SyncCount,
	)

	r.notify(Event{Type: EventStatus, Device: *snapshot})
	r.persist(snapshot)
	return snapshot, nil
}

// MarkOffline clears the online flag. Returns false if the device is
// unknown. LastSeen is left untouched so the silence that caused the
// demotion stays observable.
func (r *Registry) MarkOffline(id string) bool {
	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	changed := d.Online
	d.Online = false
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	if changed {
		r.logger.Info("device marked offline", "device_id", id)
		r.notify(Event{Type: EventOffline, Device: *snapshot})
		r.persist(snapshot)
	}
	return true
}

// MarkOnline sets the online flag. Returns false if the device is unknown.
func (r *Registry) MarkOnline(id string) bool {
	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	changed := !d.Online
	d.Online = true
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	if changed {
		r.logger.Info("device marked online", "device_id", id)
		r.notify(Event{Type: EventOnline, Device: *snapshot})
		r.persist(snapshot)
	}
	return true
}

// SetTheme mirrors a hub-side theme push into the device record without
// touching liveness state. The device's own status report will confirm or
// correct it later. Returns false if the device is unknown.
func (r *Registry) SetTheme(id, theme string) bool {
	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	d.Theme = theme
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	r.notify(Event{Type: EventTheme, Device: *snapshot})
	r.persist(snapshot)
	return true
}

// MarkStale marks offline every online device whose LastSeen is older than
// timeout, evaluated against a single now. Returns copies of the devices
// that were demoted.
func (r *Registry) MarkStale(timeout time.Duration, now time.Time) []Device {
	var stale []Device

	r.mu.Lock()
	for _, id := range r.order {
		d := r.devices[id]
		if d.Online && now.Sub(d.LastSeen) > timeout {
			d.Online = false
			stale = append(stale, *d.DeepCopy())
		}
	}
	r.mu.Unlock()

	for i := range stale {
		r.logger.Info("device marked offline",
			"device_id", stale[i].ID,
			"last_seen", stale[i].LastSeen,
		)
		r.notify(Event{Type: EventOffline, Device: stale[i]})
		r.persist(&stale[i])
	}
	return stale
}

// Get retrieves a device by ID. The returned device is a deep copy.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.devices[id]
	if !exists {
		return nil, false
	}
	return d.DeepCopy(), true
}

// List returns all devices in insertion order. The returned devices are
// deep copies.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, *r.devices[id].DeepCopy())
	}
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// OnlineCount returns the number of devices currently flagged online.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.devices {
		if d.Online {
			count++
		}
	}
	return count
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Total:   len(r.devices),
		ByTheme: make(map[string]int),
	}
	for _, d := range r.devices {
		if d.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.ByTheme[d.Theme]++
	}
	return stats
}

// Close waits for in-flight persistence writes to finish.
// Call during hub shutdown after traffic has stopped.
func (r *Registry) Close() {
	r.wg.Wait()
}

// notify delivers an event to the OnChange hook, if one is set.
func (r *Registry) notify(ev Event) {
	r.hookMu.RLock()
	hook := r.onChange
	r.hookMu.RUnlock()

	if hook != nil {
		hook(ev)
	}
}

// persist writes a device snapshot to the store on a background goroutine.
// Store failure is logged and otherwise ignored: the in-memory mutation has
// already succeeded and is never rolled back.
func (r *Registry) persist(d *Device) {
	if r.store == nil {
		return
	}

	snapshot := *d.DeepCopy()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := retry.Do(func() error {
			return r.store.Save(ctx, snapshot)
		},
			retry.Attempts(persistAttempts),
			retry.Delay(persistInitialBackoff),
			retry.MaxDelay(persistMaxBackoff),
		)
		if err != nil {
			r.logger.Warn("device persist failed",
				"device_id", snapshot.ID,
				"error", err,
			)
		}
	}()
}
