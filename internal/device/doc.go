// Package device defines the core device model shared by the bridge.
//
// A flow-side node describes each virtual device with a Descriptor; the
// bridge validates it, builds a fabric endpoint for it, and keeps its
// attribute State current on both sides. This package holds the
// descriptor and state types, the closed device-type set, battery
// status decoding helpers, and the SQLite-backed write history.
//
// # Key Types
//
//   - Descriptor: Flow-side device description (JSON contract)
//   - State: Current attribute values of one device
//   - BatteryStatus: Decoded battery update from the flow side
//   - StateHistoryRepository: Append-only log of committed writes
//
// # Thread Safety
//
// The repository implementations are safe for concurrent use. State
// values are plain maps; callers isolate shared copies with DeepCopy.
package device
