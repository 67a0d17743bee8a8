package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxIDLength   = 64
	maxNameLength = 100
)

// ValidateDescriptor performs comprehensive validation on a descriptor.
// Returns an error describing the first validation failure found.
func ValidateDescriptor(d Descriptor) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if !d.Type.IsKnown() {
		return fmt.Errorf("%w: %q", ErrInvalidType, d.Type)
	}
	if d.Bat {
		switch d.BatType {
		case BatTypeReplaceable, BatTypeRechargeable:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidBatType, d.BatType)
		}
	}
	return nil
}

// ValidateID checks that a device ID is usable as an MQTT topic segment.
// IDs must be non-empty, fit within maxIDLength and contain no wildcard
// or separator characters.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if strings.ContainsAny(id, "+#/") {
		return fmt.Errorf("%w: contains reserved characters", ErrInvalidID)
	}
	return nil
}

// ValidateName checks that a device name is non-empty and within limits.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}
