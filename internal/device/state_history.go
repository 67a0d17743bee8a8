package device

import (
	"context"
	"time"
)

// Origin values for state history entries.
const (
	OriginFlow     = "flow"
	OriginProtocol = "protocol"
)

// StateHistoryEntry represents a single committed attribute write.
//
// Each entry stores one attribute at the time the write reached the
// fabric. This provides a local audit trail even when the time-series
// database is unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the unique identifier of the device.
	DeviceID string `json:"device_id"`

	// Attribute is the attribute name that changed.
	Attribute string `json:"attribute"`

	// Value is the committed attribute value.
	Value any `json:"value"`

	// Origin identifies which side produced the write (flow, protocol).
	Origin string `json:"origin"`

	// RecordedAt is the timestamp of the write (UTC).
	RecordedAt time.Time `json:"recorded_at"`
}

// StateHistoryRepository stores and retrieves committed attribute writes.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordWrite records one committed attribute write.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - attribute: Attribute name
	//   - value: Committed value
	//   - origin: Which side produced the write (flow, protocol)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordWrite(ctx context.Context, deviceID, attribute string, value any, origin string) error

	// GetHistory returns recent write history for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// Prune deletes entries recorded before the cutoff, enforcing the
	// retention policy.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - before: Entries older than this instant are removed
	//
	// Returns:
	//   - int64: Number of entries removed
	//   - error: nil on success, otherwise the underlying persistence error
	Prune(ctx context.Context, before time.Time) (int64, error)
}
