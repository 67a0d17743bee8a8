// Package influxdb provides time-series telemetry for the bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched attribute-write recording, and health monitoring.
//
// # Purpose
//
// Every attribute write that reaches the fabric can optionally be
// recorded as a time-series point, giving long-term visibility into
// device behaviour and battery trends without touching the hot path.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // influxdb.ErrDisabled when disabled in config
//	}
//	defer client.Close()
//
//	client.WriteAttribute("d1", "level", 128)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
