package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAttribute records a committed attribute write for one device.
//
// Called after a value has been validated, survived change detection and
// been written to the fabric, so the series reflects what controllers
// actually observed. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - deviceID: Unique device identifier (e.g., "d1")
//   - attribute: The attribute name (e.g., "onOff", "level", "batPercent")
//   - value: The numeric value written
//
// Example:
//
//	client.WriteAttribute("d1", "level", 128)
//	client.WriteAttribute("sensor-hall", "temperature", 21.5)
func (c *Client) WriteAttribute(deviceID string, attribute string, value float64) {
	c.writePoint(
		"attribute_writes",
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
		},
		map[string]interface{}{
			"value": value,
		},
	)
}

// WriteBatteryStatus records a battery snapshot for one device.
//
// Used for long-term battery trend tracking on battery-backed devices.
//
// Parameters:
//   - deviceID: Device identifier
//   - percent: Remaining charge, 0-100
//   - level: Coarse battery level (0=ok, 1=low, 2=critical)
//   - charging: Whether the battery is currently charging
func (c *Client) WriteBatteryStatus(deviceID string, percent float64, level int, charging bool) {
	c.writePoint(
		"battery",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"percent":  percent,
			"level":    level,
			"charging": charging,
		},
	)
}

// writePoint batches one point, dropping it when disconnected.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
