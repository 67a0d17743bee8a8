// Package bridge implements the synchronization engine between the
// flow runtime and the protocol fabric.
//
// Each virtual device is driven by a Synchronizer: a single-goroutine
// event loop that serializes flow input messages and protocol change
// events, gates every write through validation and change detection,
// and keeps the device's state consistent on both sides without update
// feedback loops or redundant writes.
//
// # Components
//
//   - Normalize (validate.go): coerces ad-hoc flow values to their
//     expected semantic, failing on out-of-range values instead of
//     clamping.
//   - stateChanged / ValueChanged (detector.go): structural deep
//     comparison used to suppress no-op writes in both directions.
//   - BatteryConfig (battery.go): power-source augmentation shared
//     across device types.
//   - DeviceType (devicetypes.go): the closed set of device variants,
//     selected at registration time.
//   - Synchronizer (synchronizer.go): the per-device state machine
//     Unregistered → Registering → Active → Closing → Closed.
//   - Registry (registry.go): unique-id device registration with
//     atomic endpoint construction and aggregator attachment.
//   - Controller (controller.go): environment lifecycle, pairing
//     parameters, MQTT routing and device orchestration.
//
// # Feedback-loop prevention
//
// Every flow-originated protocol write carries a fresh correlation
// token. The write's echo arrives back as a protocol change event
// carrying the same token and is consumed silently. In passthrough
// mode the inbound command is forwarded to the flow output directly,
// so downstream flow logic reacts exactly once per command.
//
// # Failure isolation
//
// Validation and write failures are scoped to one device and surface
// on its status topic; they never stop the bridge or other devices.
// Environment failures are bridge-wide and drive every device through
// Closing to Closed.
package bridge
