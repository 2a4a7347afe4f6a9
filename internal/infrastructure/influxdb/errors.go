package influxdb

import "errors"

// Sentinel errors returned by Connect and the Client methods.
//
// Metrics are optional for the bridge, so startup treats ErrDisabled as
// "run without a client" rather than a failure:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // light state and energy points are not recorded
//	case err != nil:
//	    return fmt.Errorf("connecting to InfluxDB: %w", err)
//	}
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps a failed or unhealthy ping during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck on a nil or closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps asynchronous write errors passed to the
	// callback registered with SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
