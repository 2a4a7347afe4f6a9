package hmip

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Default channel used by single-channel switch and dimmer actuators.
const defaultChannel = 1

// Controller issues commands to the cloud on behalf of a Device.
// *Client implements it.
type Controller interface {
	SetSwitchState(ctx context.Context, deviceID string, channel int, on bool) error
	SetDimLevel(ctx context.Context, deviceID string, channel int, level float64) error
	SetSimpleRGBColorDimLevel(ctx context.Context, deviceID string, channel int, color RGBColorState, level float64) error
}

// FunctionalChannel is one channel of a device as reported by the cloud.
// Fields not relevant to lighting are dropped on decode.
type FunctionalChannel struct {
	Index int                   `json:"index"`
	Type  FunctionalChannelType `json:"functionalChannelType"`
	Label string                `json:"label,omitempty"`

	On                  bool          `json:"on"`
	DimLevel            float64       `json:"dimLevel"`
	SimpleRGBColorState RGBColorState `json:"simpleRGBColorState,omitempty"`

	CurrentPowerConsumption *float64 `json:"currentPowerConsumption,omitempty"`
	EnergyCounter           *float64 `json:"energyCounter,omitempty"`

	// Unreach is only set on the device base channel.
	Unreach *bool `json:"unreach,omitempty"`
}

// clone returns a copy that shares no pointers with ch.
func (ch FunctionalChannel) clone() FunctionalChannel {
	out := ch
	out.CurrentPowerConsumption = cloneFloat(ch.CurrentPowerConsumption)
	out.EnergyCounter = cloneFloat(ch.EnergyCounter)
	if ch.Unreach != nil {
		v := *ch.Unreach
		out.Unreach = &v
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// deviceJSON is the wire shape of a device in getCurrentState and push events.
type deviceJSON struct {
	ID                 string                     `json:"id"`
	Label              string                     `json:"label"`
	Type               DeviceType                 `json:"type"`
	ModelType          string                     `json:"modelType"`
	FirmwareVersion    string                     `json:"firmwareVersion"`
	FunctionalChannels map[string]json.RawMessage `json:"functionalChannels"`
}

// Device is a HomematicIP device. Identity fields are immutable; everything
// else is read through accessors that take the device lock.
type Device struct {
	ID        string
	Type      DeviceType
	ModelType string

	controller Controller

	mu              sync.RWMutex
	label           string
	firmwareVersion string
	channels        map[int]FunctionalChannel

	listenerMu   sync.Mutex
	listeners    []deviceListener
	nextListener uint64
}

type deviceListener struct {
	id uint64
	fn func(*Device)
}

// NewDevice decodes a device from its cloud JSON representation.
func NewDevice(data []byte, controller Controller) (*Device, error) {
	var raw deviceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding device: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("decoding device: missing id")
	}

	d := &Device{
		ID:         raw.ID,
		Type:       raw.Type,
		ModelType:  raw.ModelType,
		controller: controller,
		channels:   make(map[int]FunctionalChannel, len(raw.FunctionalChannels)),
	}
	if err := d.merge(raw); err != nil {
		return nil, err
	}
	return d, nil
}

// merge applies a decoded device onto d. Channel fields absent from the
// JSON keep their current values.
func (d *Device) merge(raw deviceJSON) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if raw.Label != "" {
		d.label = raw.Label
	}
	if raw.FirmwareVersion != "" {
		d.firmwareVersion = raw.FirmwareVersion
	}

	for key, data := range raw.FunctionalChannels {
		index, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("device %s: channel key %q: %w", d.ID, key, err)
		}
		ch := d.channels[index].clone()
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("device %s: channel %d: %w", d.ID, index, err)
		}
		ch.Index = index
		d.channels[index] = ch
	}
	return nil
}

// update merges a full device payload and notifies listeners.
func (d *Device) update(raw deviceJSON) error {
	if err := d.merge(raw); err != nil {
		return err
	}
	d.notify()
	return nil
}

// ApplyChannelJSON merges a partial channel update, e.g. {"dimLevel":0.5},
// into channel index and notifies listeners.
func (d *Device) ApplyChannelJSON(index int, data []byte) error {
	d.mu.Lock()
	current, ok := d.channels[index]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: device %s channel %d", ErrChannelNotFound, d.ID, index)
	}
	ch := current.clone()
	if err := json.Unmarshal(data, &ch); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("device %s: channel %d: %w", d.ID, index, err)
	}
	ch.Index = index
	d.channels[index] = ch
	d.mu.Unlock()

	d.notify()
	return nil
}

// Label returns the user-assigned device name.
func (d *Device) Label() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.label
}

// FirmwareVersion returns the reported firmware version.
func (d *Device) FirmwareVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.firmwareVersion
}

// Channel returns a snapshot of channel index.
func (d *Device) Channel(index int) (FunctionalChannel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[index]
	if !ok {
		return FunctionalChannel{}, false
	}
	return ch.clone(), true
}

// Channels returns snapshots of all channels ordered by index.
func (d *Device) Channels() []FunctionalChannel {
	d.mu.RLock()
	out := make([]FunctionalChannel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch.clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reachable reports whether the cloud can currently reach the device.
// Devices without a base channel are treated as reachable.
func (d *Device) Reachable() bool {
	base, ok := d.Channel(0)
	if !ok || base.Unreach == nil {
		return true
	}
	return !*base.Unreach
}

// AddListener registers fn to be called after every change to the device.
// The returned func removes the listener.
func (d *Device) AddListener(fn func(*Device)) (remove func()) {
	d.listenerMu.Lock()
	d.nextListener++
	id := d.nextListener
	d.listeners = append(d.listeners, deviceListener{id: id, fn: fn})
	d.listenerMu.Unlock()

	return func() {
		d.listenerMu.Lock()
		defer d.listenerMu.Unlock()
		for i, l := range d.listeners {
			if l.id == id {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *Device) notify() {
	d.listenerMu.Lock()
	listeners := make([]deviceListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.listenerMu.Unlock()

	for _, l := range listeners {
		l.fn(d)
	}
}

// TurnOn switches channel 1 on.
func (d *Device) TurnOn(ctx context.Context) error {
	return d.SetSwitchState(ctx, defaultChannel, true)
}

// TurnOff switches channel 1 off.
func (d *Device) TurnOff(ctx context.Context) error {
	return d.SetSwitchState(ctx, defaultChannel, false)
}

// SetSwitchState switches the given channel.
func (d *Device) SetSwitchState(ctx context.Context, channel int, on bool) error {
	if d.controller == nil {
		return ErrNoController
	}
	return d.controller.SetSwitchState(ctx, d.ID, channel, on)
}

// SetDimLevel sets the dim level (0.0-1.0) of channel 1.
func (d *Device) SetDimLevel(ctx context.Context, level float64) error {
	if d.controller == nil {
		return ErrNoController
	}
	return d.controller.SetDimLevel(ctx, d.ID, defaultChannel, level)
}

// SetRGBDimLevel sets colour and dim level of a notification light channel.
func (d *Device) SetRGBDimLevel(ctx context.Context, channel int, color RGBColorState, level float64) error {
	if d.controller == nil {
		return ErrNoController
	}
	return d.controller.SetSimpleRGBColorDimLevel(ctx, d.ID, channel, color, level)
}
