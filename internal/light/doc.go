// Package light adapts HomematicIP lighting devices to framework light
// entities.
//
// Four kinds of entity exist:
//
//	switchLight        plain switch actuator (HmIP-BSL channel 1)
//	measuringLight     switch actuator reporting power and energy (HmIP-BSM)
//	dimmer             dimming actuator (HmIP-BDT, HmIP-PDT, HmIP-FDT)
//	notificationLight  RGB notification LED (HmIP-BSL channels 2 and 3)
//
// Service calls (turn_on, turn_off, toggle) go through a Dispatcher and
// end up as exactly one device control call per entity. Device changes
// pushed by the cloud flow the other way: each entity listens to its
// device and republishes its derived state to a StateStore.
//
// Entities never change their own state after a command. The new state
// arrives when the cloud pushes the device change.
package light
