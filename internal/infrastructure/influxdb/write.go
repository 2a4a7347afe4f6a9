package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLightEnergy = "light_energy"
	measurementLightState  = "light_state"
)

// WriteLightEnergy records the power draw and energy counter of a
// power-measuring light. Values are written as reported by the device.
func (c *Client) WriteLightEnergy(entityID, deviceID string, powerWatts, energyKWh float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newEnergyPoint(entityID, deviceID, powerWatts, energyKWh, time.Now()))
}

// WriteLightState records the on/off state and brightness of a light.
func (c *Client) WriteLightState(entityID, deviceID string, on bool, brightness int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newStatePoint(entityID, deviceID, on, brightness, time.Now()))
}

func newEnergyPoint(entityID, deviceID string, powerWatts, energyKWh float64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementLightEnergy,
		map[string]string{
			"entity_id": entityID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"power_watts": powerWatts,
			"energy_kwh":  energyKWh,
		},
		ts,
	)
}

func newStatePoint(entityID, deviceID string, on bool, brightness int, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementLightState,
		map[string]string{
			"entity_id": entityID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"on":         on,
			"brightness": brightness,
		},
		ts,
	)
}
