// Package entity is the bridge's state store for framework-visible entities.
//
// Every light exposed by the bridge has one State: an on/off string plus
// an attribute map (brightness, color_name, power_consumption ...). The
// Registry keeps the current states in memory, persists them through a
// Repository and records a bounded history of changes.
//
// Publishing a state that equals the current one only refreshes
// LastUpdated; listeners are notified and history is written only when
// the state string or an attribute actually changed.
package entity
