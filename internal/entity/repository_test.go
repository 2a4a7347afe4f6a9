package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hmip/migrations"
)

// setupTestRepo opens an in-memory database with the bridge schema.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testState(entityID, state string, brightness int) State {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return State{
		EntityID:    entityID,
		UniqueID:    "HomematicipDimmer_" + entityID,
		State:       state,
		Attributes:  map[string]any{"brightness": brightness, "friendly_name": "Schlafzimmerlicht"},
		LastChanged: ts,
		LastUpdated: ts,
	}
}

func TestSQLiteRepository_SaveGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	want := testState("light.schlafzimmerlicht", StateOn, 255)
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, want.EntityID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.SameAs(want) {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if !got.LastChanged.Equal(want.LastChanged) {
		t.Errorf("LastChanged = %v, want %v", got.LastChanged, want.LastChanged)
	}

	// Upsert replaces.
	want.State = StateOff
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}
	got, _ = repo.Get(ctx, want.EntityID)
	if got.State != StateOff {
		t.Errorf("State after upsert = %q", got.State)
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	if _, err := repo.Get(context.Background(), "light.missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_ListAndDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"light.treppe", "light.flur_oben"} {
		if err := repo.Save(ctx, testState(id, StateOff, 0)); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	states, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(states) != 2 || states[0].EntityID != "light.flur_oben" {
		t.Errorf("List() = %v, want 2 ordered by id", states)
	}

	if err := repo.Delete(ctx, "light.treppe"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "light.treppe"); err != nil {
		t.Errorf("Delete() of missing entity = %v", err)
	}
	states, _ = repo.List(ctx)
	if len(states) != 1 {
		t.Errorf("len(List()) after delete = %d", len(states))
	}
}

func TestSQLiteRepository_History(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	id := "light.schlafzimmerlicht"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := testState(id, StateOn, i*50)
		s.LastChanged = base.Add(time.Duration(i) * time.Millisecond)
		if err := repo.RecordHistory(ctx, s); err != nil {
			t.Fatalf("RecordHistory() error = %v", err)
		}
	}

	entries, err := repo.History(ctx, id, 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(entries))
	}
	// Newest first; JSON numbers come back as float64.
	if entries[0].Attributes["brightness"] != 200.0 {
		t.Errorf("newest brightness = %v, want 200", entries[0].Attributes["brightness"])
	}
	if !entries[0].RecordedAt.After(entries[1].RecordedAt) {
		t.Error("history not ordered newest first")
	}

	if err := repo.PruneHistory(ctx, id, 2); err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	entries, _ = repo.History(ctx, id, 0)
	if len(entries) != 2 {
		t.Errorf("len(History()) after prune = %d, want 2", len(entries))
	}
}

func TestSQLiteRepository_HistoryEmpty(t *testing.T) {
	repo := setupTestRepo(t)
	entries, err := repo.History(context.Background(), "light.treppe", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("History() = %v, want empty non-nil slice", entries)
	}
}
