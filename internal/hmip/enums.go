package hmip

// RGBColorState is the colour of a notification light channel.
type RGBColorState string

// Colours supported by notification light channels.
const (
	RGBColorBlack     RGBColorState = "BLACK"
	RGBColorBlue      RGBColorState = "BLUE"
	RGBColorGreen     RGBColorState = "GREEN"
	RGBColorTurquoise RGBColorState = "TURQUOISE"
	RGBColorRed       RGBColorState = "RED"
	RGBColorPurple    RGBColorState = "PURPLE"
	RGBColorYellow    RGBColorState = "YELLOW"
	RGBColorWhite     RGBColorState = "WHITE"
)

// Valid reports whether c is one of the known colours.
func (c RGBColorState) Valid() bool {
	switch c {
	case RGBColorBlack, RGBColorBlue, RGBColorGreen, RGBColorTurquoise,
		RGBColorRed, RGBColorPurple, RGBColorYellow, RGBColorWhite:
		return true
	}
	return false
}

// DeviceType identifies the hardware model family.
type DeviceType string

// Device types relevant to lighting. Other types load fine and are
// ignored by the light platform.
const (
	DeviceTypeBrandSwitchMeasuring         DeviceType = "BRAND_SWITCH_MEASURING"
	DeviceTypeBrandSwitchNotificationLight DeviceType = "BRAND_SWITCH_NOTIFICATION_LIGHT"
	DeviceTypeBrandDimmer                  DeviceType = "BRAND_DIMMER"
	DeviceTypePluggableDimmer              DeviceType = "PLUGGABLE_DIMMER"
	DeviceTypeFullFlushDimmer              DeviceType = "FULL_FLUSH_DIMMER"
	DeviceTypePluggableSwitch              DeviceType = "PLUGABLE_SWITCH"
	DeviceTypePluggableSwitchMeasuring     DeviceType = "PLUGABLE_SWITCH_MEASURING"
	DeviceTypeFullFlushSwitchMeasuring     DeviceType = "FULL_FLUSH_SWITCH_MEASURING"
)

// FunctionalChannelType identifies what a channel does.
type FunctionalChannelType string

// Channel types the bridge reads.
const (
	ChannelTypeDeviceBase        FunctionalChannelType = "DEVICE_BASE"
	ChannelTypeSwitch            FunctionalChannelType = "SWITCH_CHANNEL"
	ChannelTypeSwitchMeasuring   FunctionalChannelType = "SWITCH_MEASURING_CHANNEL"
	ChannelTypeDimmer            FunctionalChannelType = "DIMMER_CHANNEL"
	ChannelTypeNotificationLight FunctionalChannelType = "NOTIFICATION_LIGHT_CHANNEL"
)

// EventType is the pushEventType of a cloud push event.
type EventType string

// Push event types handled by Home.
const (
	EventDeviceAdded   EventType = "DEVICE_ADDED"
	EventDeviceChanged EventType = "DEVICE_CHANGED"
	EventDeviceRemoved EventType = "DEVICE_REMOVED"
	EventHomeChanged   EventType = "HOME_CHANGED"
	EventGroupChanged  EventType = "GROUP_CHANGED"
)
