package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateChange describes a published change. Old is nil for the first
// state of an entity.
//
// When Removed is set the entity is gone: Old holds its last state and
// New carries only the EntityID.
type StateChange struct {
	Old     *State
	New     State
	Removed bool
}

// StateListener is notified after a changed state has been stored.
type StateListener func(ctx context.Context, change StateChange)

// Registry is the in-memory state store backed by a Repository.
//
// All public methods are thread-safe.
type Registry struct {
	repo         Repository
	historyLimit int
	now          func() time.Time

	// publishMu serialises the compare-and-store step of Publish.
	publishMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]State

	listenerMu sync.RWMutex
	listeners  []StateListener

	logger Logger
}

// NewRegistry creates a registry. historyLimit caps the history rows kept
// per entity; 0 keeps everything.
func NewRegistry(repo Repository, historyLimit int) *Registry {
	return &Registry{
		repo:         repo,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
		cache:        make(map[string]State),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache loads all persisted states. Call once on startup so that
// the first publish after a restart is compared with the last known state.
func (r *Registry) RefreshCache(ctx context.Context) error {
	states, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entity states: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]State, len(states))
	for _, s := range states {
		r.cache[s.EntityID] = s
	}
	r.cacheMu.Unlock()

	r.logger.Info("entity state cache refreshed", "count", len(states))
	return nil
}

// OnStateChanged registers a listener for changed states.
func (r *Registry) OnStateChanged(fn StateListener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenerMu.Unlock()
}

// Publish stores a new state for an entity and returns it with its
// timestamps filled in.
//
// LastUpdated is always set to now. LastChanged is set to now only when
// the state string or attributes differ from the current state; in that
// case a history row is written and listeners are notified.
func (r *Registry) Publish(ctx context.Context, state State) (State, error) {
	if err := ValidateEntityID(state.EntityID); err != nil {
		return State{}, err
	}

	r.publishMu.Lock()
	now := r.now()
	state = state.DeepCopy()
	state.LastUpdated = now

	r.cacheMu.RLock()
	previous, existed := r.cache[state.EntityID]
	r.cacheMu.RUnlock()

	changed := !existed || !previous.SameAs(state)
	if changed {
		state.LastChanged = now
	} else {
		state.LastChanged = previous.LastChanged
	}

	if err := r.repo.Save(ctx, state); err != nil {
		r.publishMu.Unlock()
		return State{}, fmt.Errorf("publishing %s: %w", state.EntityID, err)
	}

	r.cacheMu.Lock()
	r.cache[state.EntityID] = state
	r.cacheMu.Unlock()
	r.publishMu.Unlock()

	if !changed {
		return state.DeepCopy(), nil
	}

	if err := r.repo.RecordHistory(ctx, state); err != nil {
		// History is an audit trail; the state itself is already stored.
		r.logger.Warn("recording state history failed", "entity_id", state.EntityID, "error", err)
	} else if r.historyLimit > 0 {
		if err := r.repo.PruneHistory(ctx, state.EntityID, r.historyLimit); err != nil {
			r.logger.Warn("pruning state history failed", "entity_id", state.EntityID, "error", err)
		}
	}

	change := StateChange{New: state.DeepCopy()}
	if existed {
		old := previous.DeepCopy()
		change.Old = &old
	}
	r.logger.Debug("entity state changed", "entity_id", state.EntityID, "state", state.State)
	r.notify(ctx, change)

	return state.DeepCopy(), nil
}

func (r *Registry) notify(ctx context.Context, change StateChange) {
	r.listenerMu.RLock()
	listeners := make([]StateListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, change)
	}
}

// Get returns the current state of an entity.
func (r *Registry) Get(ctx context.Context, entityID string) (State, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[entityID]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	stored, err := r.repo.Get(ctx, entityID)
	if err != nil {
		return State{}, err
	}

	r.cacheMu.Lock()
	r.cache[entityID] = *stored
	r.cacheMu.Unlock()
	return stored.DeepCopy(), nil
}

// List returns all current states ordered by entity id.
func (r *Registry) List() []State {
	r.cacheMu.RLock()
	states := make([]State, 0, len(r.cache))
	for _, s := range r.cache {
		states = append(states, s.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
	return states
}

// Remove deletes an entity and its history. Listeners receive a change
// with Removed set if the entity existed.
func (r *Registry) Remove(ctx context.Context, entityID string) error {
	r.publishMu.Lock()
	r.cacheMu.RLock()
	previous, existed := r.cache[entityID]
	r.cacheMu.RUnlock()
	if !existed {
		if stored, err := r.repo.Get(ctx, entityID); err == nil {
			previous, existed = *stored, true
		}
	}

	if err := r.repo.Delete(ctx, entityID); err != nil {
		r.publishMu.Unlock()
		return fmt.Errorf("removing %s: %w", entityID, err)
	}
	r.cacheMu.Lock()
	delete(r.cache, entityID)
	r.cacheMu.Unlock()
	r.publishMu.Unlock()

	if !existed {
		return nil
	}
	r.logger.Debug("entity removed", "entity_id", entityID)
	r.notify(ctx, StateChange{Old: &previous, New: State{EntityID: entityID}, Removed: true})
	return nil
}

// History returns recent changes of an entity, newest first.
func (r *Registry) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	if _, err := r.Get(ctx, entityID); err != nil {
		return nil, err
	}
	return r.repo.History(ctx, entityID, limit)
}

// Count returns the number of known entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
