package bridge

import "errors"

// Failure taxonomy for the synchronization engine.
//
// Device-scoped failures (invalid values, registration problems, write
// rejections) surface on that device's status topic and never affect
// other devices. Environment failures are bridge-wide and drive every
// device toward shutdown.
//
// Check with errors.Is():
//
//	if errors.Is(err, bridge.ErrDuplicateID) {
//	    // second registration for an existing id
//	}
var (
	// ErrInvalidValue indicates an inbound value failed validation.
	// The message is dropped; existing state is unchanged.
	ErrInvalidValue = errors.New("bridge: invalid value")

	// ErrDuplicateID indicates a registration reused an existing device id.
	ErrDuplicateID = errors.New("bridge: duplicate device id")

	// ErrConstructionFailed indicates the protocol endpoint could not be
	// built for the requested device type.
	ErrConstructionFailed = errors.New("bridge: endpoint construction failed")

	// ErrRegistrationFailed wraps any failure that left a device
	// unregistered.
	ErrRegistrationFailed = errors.New("bridge: registration failed")

	// ErrProtocolWriteFailed indicates the protocol layer rejected a
	// write. State is not updated, so the next change retries naturally.
	ErrProtocolWriteFailed = errors.New("bridge: protocol write failed")

	// ErrEnvironmentFailure indicates a bridge-level failure fatal to
	// every registered device.
	ErrEnvironmentFailure = errors.New("bridge: environment failure")

	// ErrQueueFull indicates a device's event queue is saturated and the
	// message was dropped.
	ErrQueueFull = errors.New("bridge: device event queue full")

	// ErrUnknownDevice indicates a message addressed a device id with no
	// active synchronizer.
	ErrUnknownDevice = errors.New("bridge: unknown device")

	// ErrNotRunning indicates an operation on a stopped controller.
	ErrNotRunning = errors.New("bridge: not running")
)
