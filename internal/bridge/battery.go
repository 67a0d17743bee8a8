package bridge

import (
	"fmt"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// Power-source attribute names.
const (
	attrBatLevel    = "batLevel"
	attrBatPercent  = "batPercent"
	attrBatCharging = "batCharging"
)

// BatteryConfig selects the battery capabilities a device carries.
type BatteryConfig int

// Battery configurations.
const (
	BatteryNone BatteryConfig = iota
	BatteryReplaceable
	BatteryRechargeable
)

// BatteryConfigFor derives the battery configuration from a descriptor.
// The descriptor is assumed validated, so an unknown batType maps to
// BatteryNone.
func BatteryConfigFor(desc device.Descriptor) BatteryConfig {
	if !desc.Bat {
		return BatteryNone
	}
	switch desc.BatType {
	case device.BatTypeReplaceable:
		return BatteryReplaceable
	case device.BatTypeRechargeable:
		return BatteryRechargeable
	default:
		return BatteryNone
	}
}

// Clusters returns the power-source cluster for this configuration,
// empty for BatteryNone. Rechargeable batteries additionally expose the
// charging attribute.
func (c BatteryConfig) Clusters() []matter.Cluster {
	switch c {
	case BatteryReplaceable:
		return []matter.Cluster{{
			Name:       "powerSource",
			Attributes: []string{attrBatLevel, attrBatPercent},
		}}
	case BatteryRechargeable:
		return []matter.Cluster{{
			Name:       "powerSource",
			Attributes: []string{attrBatLevel, attrBatPercent, attrBatCharging},
		}}
	default:
		return nil
	}
}

// InitialAttributes seeds the power-source attributes: a full, ok
// battery that is not charging.
func (c BatteryConfig) InitialAttributes() map[string]any {
	switch c {
	case BatteryReplaceable:
		return map[string]any{
			attrBatLevel:   float64(device.BatteryLevelOK),
			attrBatPercent: float64(100),
		}
	case BatteryRechargeable:
		return map[string]any{
			attrBatLevel:    float64(device.BatteryLevelOK),
			attrBatPercent:  float64(100),
			attrBatCharging: false,
		}
	default:
		return nil
	}
}

// ApplyBatteryMessage validates an inbound battery payload and maps it
// to power-source attribute writes.
//
// The wire shape is {battery: {level: 0|1|2, percent: 0-100, charge:
// 0|1}}; a bare {level, percent, charge} object is accepted too. Fields
// may be omitted for partial updates. Any invalid field fails the whole
// message with ErrInvalidValue and produces no writes, leaving existing
// battery state untouched.
//
// The charge field is validated for both chemistries but only
// rechargeable batteries expose a charging attribute, so it is dropped
// for replaceable ones.
func ApplyBatteryMessage(cfg BatteryConfig, payload any) ([]PendingWrite, error) {
	if cfg == BatteryNone {
		return nil, fmt.Errorf("%w: battery message for device without battery", ErrInvalidValue)
	}

	fields, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected battery object, received %v (%T)", ErrInvalidValue, payload, payload)
	}
	if inner, ok := fields["battery"].(map[string]any); ok {
		fields = inner
	}

	var writes []PendingWrite

	if raw, ok := fields["level"]; ok {
		level, err := Normalize(raw, SemanticNumber)
		if err != nil {
			return nil, err
		}
		switch level {
		case float64(device.BatteryLevelOK), float64(device.BatteryLevelLow), float64(device.BatteryLevelCritical):
		default:
			return nil, fmt.Errorf("%w: battery level must be 0, 1 or 2, received %v", ErrInvalidValue, raw)
		}
		writes = append(writes, PendingWrite{Attribute: attrBatLevel, Value: level})
	}

	if raw, ok := fields["percent"]; ok {
		percent, err := Normalize(raw, SemanticPercent)
		if err != nil {
			return nil, err
		}
		writes = append(writes, PendingWrite{Attribute: attrBatPercent, Value: percent})
	}

	if raw, ok := fields["charge"]; ok {
		charging, err := Normalize(raw, SemanticBoolean)
		if err != nil {
			return nil, err
		}
		if cfg == BatteryRechargeable {
			writes = append(writes, PendingWrite{Attribute: attrBatCharging, Value: charging})
		}
	}

	return writes, nil
}

// isBatteryAttribute reports whether name is a power-source attribute.
func isBatteryAttribute(name string) bool {
	switch name {
	case attrBatLevel, attrBatPercent, attrBatCharging:
		return true
	}
	return false
}

// BatteryStatusFromState decodes the power-source attributes in a
// device state into a BatteryStatus snapshot.
func BatteryStatusFromState(state device.State) device.BatteryStatus {
	status := device.BatteryStatus{}
	if level, ok := asFloat(state[attrBatLevel]); ok {
		status.Level = device.BatteryLevel(int(level))
	}
	if percent, ok := asFloat(state[attrBatPercent]); ok {
		status.Percent = int(percent)
	}
	if charging, ok := state[attrBatCharging].(bool); ok {
		status.Charging = charging
	}
	return status
}
