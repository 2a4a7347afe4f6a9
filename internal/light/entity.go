package light

import (
	"context"
	"math"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

// Attribute names published with every light state.
const (
	AttrFriendlyName     = "friendly_name"
	AttrModelType        = "model_type"
	AttrDeviceID         = "device_id"
	AttrBrightness       = "brightness"
	AttrColorName        = "color_name"
	AttrHSColor          = "hs_color"
	AttrRGBColor         = "rgb_color"
	AttrPowerConsumption = "power_consumption"
	AttrEnergyCounter    = "energy_counter"
)

// maxBrightness is full brightness on the framework's 0-255 scale.
const maxBrightness = 255

// TurnOnParams carries the optional turn_on parameters. A nil field means
// the caller did not supply it.
type TurnOnParams struct {
	// Brightness is on the 0-255 scale.
	Brightness *int
	HSColor    *HSColor
}

func (p TurnOnParams) empty() bool {
	return p.Brightness == nil && p.HSColor == nil
}

// Light is a framework light entity backed by one channel of a HomematicIP device.
type Light interface {
	EntityID() string
	UniqueID() string
	Name() string
	Device() *hmip.Device

	IsOn() bool
	TurnOn(ctx context.Context, params TurnOnParams) error
	TurnOff(ctx context.Context) error

	// State derives the framework state from the current device record.
	State() entity.State
}

// baseLight holds what every light kind shares.
type baseLight struct {
	device   *hmip.Device
	channel  int
	name     string
	entityID string
	uniqueID string
}

func (b *baseLight) EntityID() string     { return b.entityID }
func (b *baseLight) UniqueID() string     { return b.uniqueID }
func (b *baseLight) Name() string         { return b.name }
func (b *baseLight) Device() *hmip.Device { return b.device }
func (b *baseLight) base() *baseLight     { return b }

// functionalChannel returns a snapshot of the entity's channel.
func (b *baseLight) functionalChannel() hmip.FunctionalChannel {
	ch, _ := b.device.Channel(b.channel)
	return ch
}

// buildState assembles an entity state. Brightness and colour attributes
// are only meaningful while the light is on, so extra is applied for
// every state but onAttrs only when on.
func (b *baseLight) buildState(on bool, onAttrs, extra map[string]any) entity.State {
	attrs := map[string]any{
		AttrFriendlyName: b.name,
		AttrModelType:    b.device.ModelType,
		AttrDeviceID:     b.device.ID,
	}
	for k, v := range extra {
		attrs[k] = v
	}

	state := entity.StateOff
	switch {
	case !b.device.Reachable():
		state = entity.StateUnavailable
	case on:
		state = entity.StateOn
		for k, v := range onAttrs {
			attrs[k] = v
		}
	}

	return entity.State{
		EntityID:   b.entityID,
		UniqueID:   b.uniqueID,
		State:      state,
		Attributes: attrs,
	}
}

// dimToBrightness converts a 0.0-1.0 dim level to the 0-255 scale.
func dimToBrightness(dim float64) int {
	b := int(math.Round(dim * maxBrightness))
	switch {
	case b < 0:
		return 0
	case b > maxBrightness:
		return maxBrightness
	}
	return b
}

// brightnessToDim converts 0-255 to a 0.0-1.0 dim level.
func brightnessToDim(brightness int) float64 {
	return float64(brightness) / maxBrightness
}

// switchLight is a plain on/off actuator.
type switchLight struct {
	baseLight
}

func newSwitchLight(device *hmip.Device, name string) *switchLight {
	return &switchLight{baseLight{device: device, channel: 1, name: name}}
}

func (l *switchLight) IsOn() bool {
	return l.functionalChannel().On
}

// TurnOn switches the actuator on. Brightness and colour do not apply.
func (l *switchLight) TurnOn(ctx context.Context, _ TurnOnParams) error {
	return l.device.TurnOn(ctx)
}

func (l *switchLight) TurnOff(ctx context.Context) error {
	return l.device.TurnOff(ctx)
}

func (l *switchLight) State() entity.State {
	return l.buildState(l.IsOn(), nil, nil)
}

// measuringLight is a switch actuator that also reports power and energy.
// Both values are published exactly as the device reports them.
type measuringLight struct {
	switchLight
}

func newMeasuringLight(device *hmip.Device, name string) *measuringLight {
	return &measuringLight{switchLight{baseLight{device: device, channel: 1, name: name}}}
}

func (l *measuringLight) State() entity.State {
	ch := l.functionalChannel()

	extra := make(map[string]any, 2)
	if ch.CurrentPowerConsumption != nil {
		extra[AttrPowerConsumption] = *ch.CurrentPowerConsumption
	}
	if ch.EnergyCounter != nil {
		extra[AttrEnergyCounter] = *ch.EnergyCounter
	}
	return l.buildState(ch.On, nil, extra)
}

// dimmer is a dimming actuator.
type dimmer struct {
	baseLight
}

func newDimmer(device *hmip.Device, name string) *dimmer {
	return &dimmer{baseLight{device: device, channel: 1, name: name}}
}

func (l *dimmer) IsOn() bool {
	return l.functionalChannel().DimLevel > 0
}

// TurnOn dims to the requested brightness, or to full level without one.
func (l *dimmer) TurnOn(ctx context.Context, params TurnOnParams) error {
	if params.Brightness != nil {
		return l.device.SetDimLevel(ctx, brightnessToDim(*params.Brightness))
	}
	return l.device.SetDimLevel(ctx, 1)
}

func (l *dimmer) TurnOff(ctx context.Context) error {
	return l.device.SetDimLevel(ctx, 0)
}

func (l *dimmer) State() entity.State {
	dim := l.functionalChannel().DimLevel
	return l.buildState(dim > 0, map[string]any{AttrBrightness: dimToBrightness(dim)}, nil)
}
