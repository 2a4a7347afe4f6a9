// Package influxdb writes HomematicIP light telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// produced:
//   - light_energy: power draw (W) and energy counter (kWh) of power-measuring lights
//   - light_state: on/off and brightness of every light on each state change
//
// Writes are non-blocking and batched (batch_size, flush_interval in
// config.yaml). Async write failures are delivered through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLightEnergy("light.treppe", "3014F711A0000000000000AA", 50, 6.33)
package influxdb
