package light

import (
	"context"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

// Notification LED channels on the HmIP-BSL.
const (
	channelTop    = 2
	channelBottom = 3
)

// minNotificationBrightness is the lowest brightness the LED shows; the
// device switches the LED off below it.
const minNotificationBrightness = 10

// notificationLight is one RGB LED of a switch with notification light.
type notificationLight struct {
	baseLight
}

func newNotificationLight(device *hmip.Device, name string, channel int) *notificationLight {
	return &notificationLight{baseLight{device: device, channel: channel, name: name}}
}

func (l *notificationLight) IsOn() bool {
	return l.functionalChannel().DimLevel > 0
}

func (l *notificationLight) color() hmip.RGBColorState {
	return l.functionalChannel().SimpleRGBColorState
}

func (l *notificationLight) brightness() int {
	return dimToBrightness(l.functionalChannel().DimLevel)
}

// TurnOn sets colour and level in one call.
//
// Missing parameters keep the current colour and brightness. With no
// parameters at all the LED goes to full level in its current colour.
// The brightness is never sent below minNotificationBrightness.
func (l *notificationLight) TurnOn(ctx context.Context, params TurnOnParams) error {
	hs := colorToHS(l.color())
	if params.HSColor != nil {
		hs = *params.HSColor
	}

	brightness := l.brightness()
	if params.Brightness != nil {
		brightness = *params.Brightness
	}
	if params.empty() {
		brightness = maxBrightness
	}
	brightness = max(brightness, minNotificationBrightness)

	return l.device.SetRGBDimLevel(ctx, l.channel, hsToColor(hs), brightnessToDim(brightness))
}

// TurnOff dims the LED to zero and keeps its colour.
func (l *notificationLight) TurnOff(ctx context.Context) error {
	return l.device.SetRGBDimLevel(ctx, l.channel, l.color(), 0)
}

func (l *notificationLight) State() entity.State {
	ch := l.functionalChannel()
	hs := colorToHS(ch.SimpleRGBColorState)
	rgb := hsToRGB(hs)

	onAttrs := map[string]any{
		AttrBrightness: dimToBrightness(ch.DimLevel),
		AttrHSColor:    []float64{hs.Hue, hs.Saturation},
		AttrRGBColor:   []int{rgb[0], rgb[1], rgb[2]},
	}
	extra := map[string]any{
		AttrColorName: string(ch.SimpleRGBColorState),
	}
	return l.buildState(ch.DimLevel > 0, onAttrs, extra)
}
