package agent

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// telemetry tracks the counters reported in status payloads. Uptime is
// measured from agent start, not host boot, and sync_count only ever grows.
type telemetry struct {
	start     time.Time
	syncCount atomic.Uint64
}

func newTelemetry(now time.Time) *telemetry {
	return &telemetry{start: now}
}

// snapshot builds a status payload and bumps the sync counter. Memory
// figures come from the Go runtime: total is what the process has obtained
// from the OS, free is the part not currently held by live heap objects.
func (t *telemetry) snapshot(theme string, now time.Time) protocol.StatusPayload {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	free := ms.Sys - ms.HeapAlloc
	if ms.HeapAlloc > ms.Sys {
		free = 0
	}

	return protocol.StatusPayload{
		Theme:     theme,
		Uptime:    now.Sub(t.start).Seconds(),
		FreeRAM:   free,
		TotalRAM:  ms.Sys,
		SyncCount: t.syncCount.Add(1),
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}

// uptime returns seconds since agent start without touching the counter.
func (t *telemetry) uptime(now time.Time) float64 {
	return now.Sub(t.start).Seconds()
}

func (t *telemetry) syncs() uint64 {
	return t.syncCount.Load()
}
