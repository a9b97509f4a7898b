package fleet

import (
	"context"
	"sync"
	"time"
)

// Liveness defaults.
const (
	// defaultLivenessInterval is the sweep cadence when none is configured.
	defaultLivenessInterval = 5 * time.Minute

	// defaultOfflineTimeout is how long a device may stay silent before the
	// sweep marks it offline.
	defaultOfflineTimeout = 300 * time.Second
)

// Liveness periodically demotes silent devices to offline.
//
// Silence is the only signal: the monitor never probes devices or touches
// the broker, it only compares LastSeen against a timeout. Sweeps are
// idempotent; a device already offline is left alone.
type Liveness struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// LivenessConfig holds configuration for the liveness monitor.
type LivenessConfig struct {
	// Registry is the device registry to sweep. Required.
	Registry *Registry

	// Interval is the sweep cadence. Default: 5 minutes.
	Interval time.Duration

	// Timeout is the silence threshold for marking a device offline.
	// Independent from Interval. Default: 300 seconds.
	Timeout time.Duration

	// Logger is optional.
	Logger Logger
}

// NewLiveness creates a liveness monitor.
// Call Start to begin sweeping and Stop to shut down.
func NewLiveness(cfg LivenessConfig) *Liveness {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultLivenessInterval
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOfflineTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Liveness{
		registry: cfg.Registry,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Start begins periodic sweeps.
func (l *Liveness) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.sweepLoop(ctx)
}

// Stop gracefully stops the monitor.
// Safe to call multiple times (uses sync.Once).
func (l *Liveness) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

// sweepLoop runs the periodic sweep until stopped.
func (l *Liveness) sweepLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.Sweep(time.Now().UTC())
		}
	}
}

// Sweep runs one pass over the registry. Every online device whose LastSeen
// is older than the timeout, measured against the single now passed in, is
// marked offline.
func (l *Liveness) Sweep(now time.Time) {
	stale := l.registry.MarkStale(l.timeout, now)
	if len(stale) > 0 {
		l.logger.Info("liveness sweep demoted devices", "count", len(stale))
	}
}
