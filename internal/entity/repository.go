package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists entity states and their history.
//
// Implementations must be safe for concurrent use and store UTC times.
type Repository interface {
	// Get returns the stored state or ErrEntityNotFound.
	Get(ctx context.Context, entityID string) (*State, error)

	// List returns all stored states ordered by entity id.
	List(ctx context.Context) ([]State, error)

	// Save inserts or replaces the state of an entity.
	Save(ctx context.Context, state State) error

	// Delete removes the state of an entity. Missing entities are not an error.
	Delete(ctx context.Context, entityID string) error

	// RecordHistory appends a history row for the state.
	RecordHistory(ctx context.Context, state State) error

	// History returns up to limit entries, newest first.
	History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error)

	// PruneHistory keeps the newest keep rows for an entity.
	PruneHistory(ctx context.Context, entityID string, keep int) error
}

// History query bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// timeFormat has fixed-width fractional seconds so stored UTC times sort
// lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository on the entity_states and
// entity_state_history tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the stored state of an entity.
func (r *SQLiteRepository) Get(ctx context.Context, entityID string) (*State, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_id, unique_id, state, attributes, last_changed, last_updated
		FROM entity_states
		WHERE entity_id = ?`, entityID)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity state: %w", err)
	}
	return state, nil
}

// List returns all stored states.
func (r *SQLiteRepository) List(ctx context.Context) ([]State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, unique_id, state, attributes, last_changed, last_updated
		FROM entity_states
		ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entity states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity state: %w", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity states: %w", err)
	}
	return states, nil
}

// Save upserts the state of an entity.
func (r *SQLiteRepository) Save(ctx context.Context, state State) error {
	attrs, err := marshalAttributes(state.Attributes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_states (entity_id, unique_id, state, attributes, last_changed, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			unique_id = excluded.unique_id,
			state = excluded.state,
			attributes = excluded.attributes,
			last_changed = excluded.last_changed,
			last_updated = excluded.last_updated`,
		state.EntityID,
		state.UniqueID,
		state.State,
		attrs,
		state.LastChanged.UTC().Format(timeFormat),
		state.LastUpdated.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving entity state: %w", err)
	}
	return nil
}

// Delete removes the state and history of an entity.
func (r *SQLiteRepository) Delete(ctx context.Context, entityID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entity_states WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("deleting entity state: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entity_state_history WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("deleting entity history: %w", err)
	}
	return nil
}

// RecordHistory appends a history row stamped with the state's LastChanged.
func (r *SQLiteRepository) RecordHistory(ctx context.Context, state State) error {
	attrs, err := marshalAttributes(state.Attributes)
	if err != nil {
		return err
	}
	recordedAt := state.LastChanged
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_state_history (entity_id, state, attributes, recorded_at)
		VALUES (?, ?, ?, ?)`,
		state.EntityID, state.State, attrs, recordedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording entity history: %w", err)
	}
	return nil
}

// History returns recent history entries, newest first. The limit is
// clamped to 1..1000 and defaults to 50.
func (r *SQLiteRepository) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, state, attributes, recorded_at
		FROM entity_state_history
		WHERE entity_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying entity history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			e          HistoryEntry
			attrs      string
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.State, &attrs, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning entity history: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("decoding history attributes: %w", err)
		}
		e.RecordedAt, _ = time.Parse(timeFormat, recordedAt) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes all but the newest keep rows for an entity.
// keep <= 0 disables pruning.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, entityID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM entity_state_history
		WHERE entity_id = ?
		  AND id NOT IN (
			SELECT id FROM entity_state_history
			WHERE entity_id = ?
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		  )`, entityID, entityID, keep)
	if err != nil {
		return fmt.Errorf("pruning entity history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*State, error) {
	var (
		s           State
		attrs       string
		lastChanged string
		lastUpdated string
	)
	if err := row.Scan(&s.EntityID, &s.UniqueID, &s.State, &attrs, &lastChanged, &lastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	s.LastChanged, _ = time.Parse(timeFormat, lastChanged) //nolint:errcheck // Format is controlled
	s.LastUpdated, _ = time.Parse(timeFormat, lastUpdated) //nolint:errcheck // Format is controlled
	return &s, nil
}

func marshalAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshalling attributes: %w", err)
	}
	return string(data), nil
}
