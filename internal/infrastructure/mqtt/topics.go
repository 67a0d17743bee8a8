package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme for the Matter bridge.
//
// Per-device traffic uses: matterbridge/{bridge}/{device}/{direction}
//   - in:     flow → bridge commands ({topic?, payload})
//   - out:    bridge → flow state updates and passthrough forwards
//   - status: bridge → flow device status (registration, validation errors)
//
// Bridge-level topics:
//   - matterbridge/{bridge}/commissioning: retained pairing information
//   - matterbridge/system/status:          client online/offline (LWT)
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "matterbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "matterbridge/system"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	outTopic := topics.DeviceOut("bridge-001", "d1")
//	// Returns: "matterbridge/bridge-001/d1/out"
type Topics struct{}

// DeviceOut returns the outbound state topic for a device.
//
// Example: matterbridge/bridge-001/d1/out
func (Topics) DeviceOut(bridgeID, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/out", TopicPrefix, bridgeID, deviceID)
}

// DeviceStatus returns the status topic for a device.
//
// Example: matterbridge/bridge-001/d1/status
func (Topics) DeviceStatus(bridgeID, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/status", TopicPrefix, bridgeID, deviceID)
}

// Commissioning returns the retained commissioning-info topic for a bridge.
//
// Example: matterbridge/bridge-001/commissioning
func (Topics) Commissioning(bridgeID string) string {
	return fmt.Sprintf("%s/%s/commissioning", TopicPrefix, bridgeID)
}

// SystemStatus returns the client status topic (online/offline, LWT).
//
// Example: matterbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceInputs returns a pattern matching every device's in topic
// for one bridge.
//
// Pattern: matterbridge/bridge-001/+/in
func (Topics) AllDeviceInputs(bridgeID string) string {
	return fmt.Sprintf("%s/%s/+/in", TopicPrefix, bridgeID)
}

// DeviceIDFromTopic extracts the device id from a per-device topic
// (matterbridge/{bridge}/{device}/{direction}).
// Returns "" if the topic does not follow the per-device scheme.
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix {
		return ""
	}
	return parts[2]
}
