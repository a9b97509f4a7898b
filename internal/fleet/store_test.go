package fleet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/infinity-portal/fleet-core/internal/infrastructure/database"
	_ "github.com/infinity-portal/fleet-core/migrations" // registers embedded migrations
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "fleet.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	return NewSQLiteStore(db)
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	device := Device{
		ID:           "esp32-abc",
		Metadata:     map[string]any{"fw": "1.0.0"},
		Theme:        "space",
		Online:       true,
		SyncCount:    7,
		RegisteredAt: now.Add(-time.Hour),
		LastSeen:     now,
	}

	if err := store.Save(ctx, device); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d devices, want 1", len(loaded))
	}

	got := loaded[0]
	if got.ID != device.ID || got.Theme != device.Theme || got.SyncCount != device.SyncCount {
		t.Errorf("loaded = %+v", got)
	}
	if !got.Online {
		t.Error("online flag lost")
	}
	if got.Metadata["fw"] != "1.0.0" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if !got.RegisteredAt.Equal(device.RegisteredAt) || !got.LastSeen.Equal(device.LastSeen) {
		t.Errorf("timestamps: got %v / %v", got.RegisteredAt, got.LastSeen)
	}
}

func TestSQLiteStore_SaveIsUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	device := Device{ID: "esp32-abc", Theme: "mario", RegisteredAt: now, LastSeen: now}

	if err := store.Save(ctx, device); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	device.Theme = "rock"
	device.SyncCount = 3
	if err := store.Save(ctx, device); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d devices after upsert, want 1", len(loaded))
	}
	if loaded[0].Theme != "rock" || loaded[0].SyncCount != 3 {
		t.Errorf("loaded = %+v", loaded[0])
	}
}

func TestSQLiteStore_LoadAllOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"first", "second", "third"} {
		d := Device{
			ID:           id,
			RegisteredAt: base.Add(time.Duration(i) * time.Minute),
			LastSeen:     base,
		}
		if err := store.Save(ctx, d); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, id := range want {
		if loaded[i].ID != id {
			t.Errorf("loaded[%d] = %q, want %q", i, loaded[i].ID, id)
		}
	}
}

func TestRegistryWithSQLiteStore_Roundtrip(t *testing.T) {
	store := openTestStore(t)

	r := NewRegistry(store)
	r.Register("esp32-abc", map[string]any{"fw": "1.0.0"})
	r.SetTheme("esp32-abc", "physics")
	r.Close()

	// A fresh registry sees the persisted device, offline.
	r2 := NewRegistry(store)
	if err := r2.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	d, ok := r2.Get("esp32-abc")
	if !ok {
		t.Fatal("device not loaded")
	}
	if d.Theme != "physics" {
		t.Errorf("Theme = %q", d.Theme)
	}
	if d.Online {
		t.Error("loaded device must start offline")
	}
}
