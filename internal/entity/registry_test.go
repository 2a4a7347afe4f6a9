package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock returns increasing timestamps, one millisecond apart.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestRegistry(t *testing.T, historyLimit int) *Registry {
	t.Helper()
	r := NewRegistry(setupTestRepo(t), historyLimit)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.now
	return r
}

func lightState(state string, attrs map[string]any) State {
	return State{
		EntityID:   "light.treppe",
		UniqueID:   "HomematicipLight_3014F711BSL0000000000050",
		State:      state,
		Attributes: attrs,
	}
}

func TestRegistry_PublishNotifiesOnChange(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()

	var changes []StateChange
	r.OnStateChanged(func(_ context.Context, c StateChange) { changes = append(changes, c) })

	first, err := r.Publish(ctx, lightState(StateOn, nil))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if first.LastChanged.IsZero() || !first.LastChanged.Equal(first.LastUpdated) {
		t.Errorf("first publish timestamps = %v / %v", first.LastChanged, first.LastUpdated)
	}

	// Same state: only last_updated moves.
	second, err := r.Publish(ctx, lightState(StateOn, nil))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !second.LastChanged.Equal(first.LastChanged) {
		t.Error("LastChanged moved on identical publish")
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Error("LastUpdated not refreshed")
	}

	if _, err := r.Publish(ctx, lightState(StateOff, nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Old != nil {
		t.Error("first change should have no Old state")
	}
	if changes[1].Old == nil || changes[1].Old.State != StateOn || changes[1].New.State != StateOff {
		t.Errorf("second change = %+v", changes[1])
	}

	history, err := r.History(ctx, "light.treppe", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history entries = %d, want 2", len(history))
	}
}

func TestRegistry_AttributeChangeIsAChange(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()

	var n int
	r.OnStateChanged(func(context.Context, StateChange) { n++ })

	r.Publish(ctx, lightState(StateOn, map[string]any{"power_consumption": 0.0}))  //nolint:errcheck // checked via n
	r.Publish(ctx, lightState(StateOn, map[string]any{"power_consumption": 50.0})) //nolint:errcheck // checked via n

	if n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}
}

func TestRegistry_HistoryLimit(t *testing.T) {
	r := newTestRegistry(t, 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := r.Publish(ctx, lightState(StateOn, map[string]any{"brightness": i})); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	history, err := r.History(ctx, "light.treppe", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history entries = %d, want 3", len(history))
	}
}

func TestRegistry_RefreshCacheSurvivesRestart(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	first := NewRegistry(repo, 0)
	stored, err := first.Publish(ctx, lightState(StateOn, map[string]any{"brightness": 255, "hs_color": []float64{0, 100}}))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	second := NewRegistry(repo, 0)
	if err := second.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	var notified bool
	second.OnStateChanged(func(context.Context, StateChange) { notified = true })

	again, err := second.Publish(ctx, lightState(StateOn, map[string]any{"brightness": 255, "hs_color": []float64{0, 100}}))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if notified {
		t.Error("identical state after restart reported as change")
	}
	if !again.LastChanged.Equal(stored.LastChanged) {
		t.Errorf("LastChanged = %v, want %v", again.LastChanged, stored.LastChanged)
	}
}

func TestRegistry_GetListRemove(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()

	if _, err := r.Get(ctx, "light.treppe"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() before publish = %v, want ErrEntityNotFound", err)
	}

	if _, err := r.Publish(ctx, lightState(StateOn, nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, err := r.Get(ctx, "light.treppe")
	if err != nil || got.State != StateOn {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if r.Count() != 1 || len(r.List()) != 1 {
		t.Errorf("Count()/List() = %d/%d", r.Count(), len(r.List()))
	}

	if err := r.Remove(ctx, "light.treppe"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := r.Get(ctx, "light.treppe"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() after remove = %v", err)
	}
	if _, err := r.History(ctx, "light.treppe", 1); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("History() after remove = %v", err)
	}
}

func TestRegistry_RemoveNotifiesListeners(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()

	if _, err := r.Publish(ctx, lightState(StateOn, map[string]any{"brightness": 255})); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var changes []StateChange
	r.OnStateChanged(func(_ context.Context, c StateChange) { changes = append(changes, c) })

	if err := r.Remove(ctx, "light.treppe"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(changes))
	}
	c := changes[0]
	if !c.Removed || c.New.EntityID != "light.treppe" {
		t.Errorf("change = %+v, want removal of light.treppe", c)
	}
	if c.Old == nil || c.Old.State != StateOn {
		t.Errorf("Old = %+v, want last state on", c.Old)
	}

	// Removing an unknown entity is not an error and not a change.
	if err := r.Remove(ctx, "light.treppe"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("notifications after second remove = %d, want 1", len(changes))
	}
}

func TestRegistry_RemoveUncachedEntityNotifies(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := NewRegistry(repo, 0).Publish(ctx, lightState(StateOff, nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// A fresh registry that never refreshed its cache still knows the row.
	r := NewRegistry(repo, 0)
	removed := 0
	r.OnStateChanged(func(_ context.Context, c StateChange) {
		if c.Removed {
			removed++
		}
	})
	if err := r.Remove(ctx, "light.treppe"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removals = %d, want 1", removed)
	}
	if _, err := repo.Get(ctx, "light.treppe"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("repo.Get() after remove = %v, want ErrEntityNotFound", err)
	}
}

func TestRegistry_ReturnedStateIsACopy(t *testing.T) {
	r := newTestRegistry(t, 0)
	ctx := context.Background()

	published, _ := r.Publish(ctx, lightState(StateOn, map[string]any{"brightness": 10})) //nolint:errcheck // asserted below
	published.Attributes["brightness"] = 99

	got, _ := r.Get(ctx, "light.treppe") //nolint:errcheck // asserted below
	if got.Attributes["brightness"] != 10 {
		t.Errorf("cache mutated through returned state: %v", got.Attributes["brightness"])
	}
}

func TestRegistry_RejectsInvalidEntityID(t *testing.T) {
	r := newTestRegistry(t, 0)
	s := lightState(StateOn, nil)
	s.EntityID = "Treppe"
	if _, err := r.Publish(context.Background(), s); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("Publish() error = %v, want ErrInvalidEntityID", err)
	}
}

func TestValidateEntityID(t *testing.T) {
	tests := map[string]bool{
		"light.treppe":                  true,
		"light.treppe_top_notification": true,
		"light":                         false,
		"light.":                        false,
		".treppe":                       false,
		"light.Treppe":                  false,
		"light.a.b":                     false,
	}
	for id, valid := range tests {
		if err := ValidateEntityID(id); (err == nil) != valid {
			t.Errorf("ValidateEntityID(%q) = %v, want valid=%v", id, err, valid)
		}
	}
}
