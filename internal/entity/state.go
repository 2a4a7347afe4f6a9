package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State strings.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
)

// State is the framework-visible state of one entity.
type State struct {
	EntityID    string         `json:"entity_id"`
	UniqueID    string         `json:"unique_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part of the entity id before the dot.
func (s State) Domain() string {
	domain, _, _ := strings.Cut(s.EntityID, ".")
	return domain
}

// DeepCopy returns a copy whose attribute map can be modified freely.
// Attribute values are treated as immutable.
func (s State) DeepCopy() State {
	out := s
	if s.Attributes != nil {
		out.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// SameAs reports whether s and other carry the same state string and
// attributes. Timestamps are ignored. Attributes are compared by their
// JSON encoding so values read back from storage compare equal to the
// values originally published.
func (s State) SameAs(other State) bool {
	if s.State != other.State {
		return false
	}
	a, errA := json.Marshal(s.Attributes)
	b, errB := json.Marshal(other.Attributes)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// ValidateEntityID checks the <domain>.<object_id> form.
func ValidateEntityID(id string) error {
	domain, object, ok := strings.Cut(id, ".")
	if !ok || domain == "" || object == "" || strings.Contains(object, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	for _, r := range id {
		if r != '.' && r != '_' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
		}
	}
	return nil
}

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	RecordedAt time.Time      `json:"recorded_at"`
}
