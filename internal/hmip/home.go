package hmip

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// DeviceEventListener is called after Home applies an added, changed or
// removed device event.
type DeviceEventListener func(event EventType, device *Device)

// Home is the set of devices behind one access point.
type Home struct {
	controller Controller

	mu      sync.RWMutex
	id      string
	devices map[string]*Device

	listenerMu sync.RWMutex
	listeners  []DeviceEventListener
}

// NewHome creates an empty home whose devices issue commands through controller.
func NewHome(controller Controller) *Home {
	return &Home{
		controller: controller,
		devices:    make(map[string]*Device),
	}
}

type currentStateJSON struct {
	Home struct {
		ID string `json:"id"`
	} `json:"home"`
	Devices map[string]json.RawMessage `json:"devices"`
}

// LoadState applies a getCurrentState payload.
//
// Devices already known are updated in place so their listeners survive a
// resync. Devices missing from the payload are removed.
func (h *Home) LoadState(data []byte) error {
	var state currentStateJSON
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding current state: %w", err)
	}

	var added, changed, removed []*Device

	h.mu.Lock()
	h.id = state.Home.ID
	for id, raw := range state.Devices {
		if existing, ok := h.devices[id]; ok {
			var dj deviceJSON
			if err := json.Unmarshal(raw, &dj); err != nil {
				h.mu.Unlock()
				return fmt.Errorf("decoding device %s: %w", id, err)
			}
			if err := existing.merge(dj); err != nil {
				h.mu.Unlock()
				return err
			}
			changed = append(changed, existing)
			continue
		}

		device, err := NewDevice(raw, h.controller)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		h.devices[device.ID] = device
		added = append(added, device)
	}
	for id, device := range h.devices {
		if _, ok := state.Devices[id]; !ok {
			delete(h.devices, id)
			removed = append(removed, device)
		}
	}
	h.mu.Unlock()

	for _, d := range changed {
		d.notify()
	}
	h.emit(EventDeviceAdded, added)
	h.emit(EventDeviceChanged, changed)
	h.emit(EventDeviceRemoved, removed)
	return nil
}

// ID returns the home id from the last loaded state.
func (h *Home) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

// Devices returns all devices ordered by id.
func (h *Home) Devices() []*Device {
	h.mu.RLock()
	out := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device looks up a device by id.
func (h *Home) Device(id string) (*Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[id]
	return d, ok
}

// OnDeviceEvent registers a listener for device add/change/remove events.
func (h *Home) OnDeviceEvent(fn DeviceEventListener) {
	h.listenerMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenerMu.Unlock()
}

func (h *Home) emit(event EventType, devices []*Device) {
	if len(devices) == 0 {
		return
	}
	h.listenerMu.RLock()
	listeners := h.listeners
	h.listenerMu.RUnlock()

	for _, d := range devices {
		for _, fn := range listeners {
			fn(event, d)
		}
	}
}

type pushMessageJSON struct {
	Events map[string]pushEventJSON `json:"events"`
}

type pushEventJSON struct {
	PushEventType EventType       `json:"pushEventType"`
	Device        json.RawMessage `json:"device,omitempty"`
	ID            string          `json:"id,omitempty"`
}

// ApplyPushMessage applies a WebSocket push message. Events are applied in
// the order of their numeric keys; unhandled event types are skipped.
func (h *Home) ApplyPushMessage(data []byte) error {
	var msg pushMessageJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	keys := make([]string, 0, len(msg.Events))
	for k := range msg.Events {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	for _, k := range keys {
		if err := h.applyEvent(msg.Events[k]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Home) applyEvent(ev pushEventJSON) error {
	switch ev.PushEventType {
	case EventDeviceAdded, EventDeviceChanged:
		if len(ev.Device) == 0 {
			return fmt.Errorf("%w: %s without device", ErrInvalidEvent, ev.PushEventType)
		}
		return h.upsertDevice(ev.Device)
	case EventDeviceRemoved:
		h.removeDevice(ev.ID)
		return nil
	default:
		return nil
	}
}

func (h *Home) upsertDevice(raw json.RawMessage) error {
	var dj deviceJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	h.mu.Lock()
	existing, ok := h.devices[dj.ID]
	if !ok {
		device, err := NewDevice(raw, h.controller)
		if err != nil {
			h.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		h.devices[device.ID] = device
		h.mu.Unlock()
		h.emit(EventDeviceAdded, []*Device{device})
		return nil
	}
	h.mu.Unlock()

	if err := existing.update(dj); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	h.emit(EventDeviceChanged, []*Device{existing})
	return nil
}

func (h *Home) removeDevice(id string) {
	h.mu.Lock()
	device, ok := h.devices[id]
	delete(h.devices, id)
	h.mu.Unlock()

	if ok {
		h.emit(EventDeviceRemoved, []*Device{device})
	}
}
