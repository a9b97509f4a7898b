// Package fleet holds the hub's authoritative view of the device fleet.
//
// The Registry is an in-memory map of devices keyed by device ID. It is the
// source of truth while the hub runs: broker traffic and REST calls mutate it
// directly, and no registry method blocks on network or disk I/O. A Store
// implementation mirrors mutations to SQLite on a fire-and-forget side
// channel so known devices survive a hub restart.
//
// Liveness sweeps the registry on a ticker and marks devices offline when
// they have been silent longer than the configured timeout. It never probes
// devices; silence is the only offline signal.
package fleet
