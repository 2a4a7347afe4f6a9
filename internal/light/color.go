package light

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
)

// HSColor is a hue (0-360) / saturation (0-100) pair.
type HSColor struct {
	Hue        float64
	Saturation float64
}

// minWhiteSaturation is the saturation below which any hue maps to white.
const minWhiteSaturation = 5

// paletteHS is the hue/saturation shown for each notification colour.
var paletteHS = map[hmip.RGBColorState]HSColor{
	hmip.RGBColorWhite:     {0, 0},
	hmip.RGBColorRed:       {0, 100},
	hmip.RGBColorYellow:    {60, 100},
	hmip.RGBColorGreen:     {120, 100},
	hmip.RGBColorTurquoise: {180, 100},
	hmip.RGBColorBlue:      {240, 100},
	hmip.RGBColorPurple:    {300, 100},
}

// colorToHS returns the palette hue/saturation of a colour. Unknown
// colours and BLACK report as white.
func colorToHS(c hmip.RGBColorState) HSColor {
	if hs, ok := paletteHS[c]; ok {
		return hs
	}
	return paletteHS[hmip.RGBColorWhite]
}

// hsToColor maps an arbitrary hue/saturation onto the notification palette.
// Both components are truncated to whole degrees/percent before banding.
func hsToColor(hs HSColor) hmip.RGBColorState {
	if math.Trunc(hs.Saturation) < minWhiteSaturation {
		return hmip.RGBColorWhite
	}

	h := math.Trunc(hs.Hue)
	switch {
	case 30 < h && h <= 90:
		return hmip.RGBColorYellow
	case 90 < h && h <= 160:
		return hmip.RGBColorGreen
	case 160 < h && h <= 210:
		return hmip.RGBColorTurquoise
	case 210 < h && h <= 270:
		return hmip.RGBColorBlue
	case 270 < h && h <= 330:
		return hmip.RGBColorPurple
	default:
		return hmip.RGBColorRed
	}
}

// hsToRGB converts a hue/saturation at full value to 8-bit RGB.
func hsToRGB(hs HSColor) [3]int {
	r, g, b := colorful.Hsv(hs.Hue, hs.Saturation/100, 1).RGB255()
	return [3]int{int(r), int(g), int(b)}
}
