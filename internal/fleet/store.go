package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infinity-portal/fleet-core/internal/infrastructure/database"
)

// Store defines the persistence side channel for registry snapshots.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Implementations must tolerate repeated Save calls for the same device;
// the registry mirrors every mutation.
type Store interface {
	// Save upserts one device snapshot.
	Save(ctx context.Context, device Device) error

	// LoadAll retrieves all persisted devices in registration order.
	LoadAll(ctx context.Context) ([]Device, error)
}

// SQLiteStore implements Store using the hub's SQLite database.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a SQLite-backed store.
// The database must already be open and migrated.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts one device snapshot.
func (s *SQLiteStore) Save(ctx context.Context, device Device) error {
	metadataJSON, err := json.Marshal(device.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if device.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO devices (device_id, metadata, theme, online, registered_at, last_seen, sync_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			metadata = excluded.metadata,
			theme = excluded.theme,
			online = excluded.online,
			last_seen = excluded.last_seen,
			sync_count = excluded.sync_count`

	_, err = s.db.ExecContext(ctx, query,
		device.ID,
		string(metadataJSON),
		device.Theme,
		boolToInt(device.Online),
		device.RegisteredAt.UTC().Format(time.RFC3339),
		device.LastSeen.UTC().Format(time.RFC3339),
		device.SyncCount,
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", device.ID, err)
	}
	return nil
}

// LoadAll retrieves all persisted devices in registration order.
// Telemetry fields (uptime, RAM) are not persisted; they are transient and
// refreshed by the device's next status report.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Device, error) {
	query := `
		SELECT device_id, metadata, theme, online, registered_at, last_seen, sync_count
		FROM devices
		ORDER BY registered_at, rowid`

	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			d            Device
			metadataJSON string
			online       int
			registeredAt string
			lastSeen     string
		)
		if err := rows.Scan(&d.ID, &metadataJSON, &d.Theme, &online, &registeredAt, &lastSeen, &d.SyncCount); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}

		if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for %s: %w", d.ID, err)
		}
		d.Online = online != 0

		// Timestamps are written by Save in RFC3339; parse errors mean the
		// row was tampered with outside the hub.
		if d.RegisteredAt, err = time.Parse(time.RFC3339, registeredAt); err != nil {
			return nil, fmt.Errorf("parsing registered_at for %s: %w", d.ID, err)
		}
		if d.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen for %s: %w", d.ID, err)
		}

		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
