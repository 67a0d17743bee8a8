package device

// Type identifies which virtual device variant an endpoint represents.
// The set is closed: registration rejects anything else.
type Type string

// Supported device types.
const (
	TypeOnOffLight        Type = "onofflight"
	TypeDimmableLight     Type = "dimmablelight"
	TypeOnOffSocket       Type = "onoffsocket"
	TypeContactSensor     Type = "contactsensor"
	TypeTemperatureSensor Type = "temperaturesensor"
)

// KnownTypes lists every supported device type.
var KnownTypes = []Type{
	TypeOnOffLight,
	TypeDimmableLight,
	TypeOnOffSocket,
	TypeContactSensor,
	TypeTemperatureSensor,
}

// IsKnown reports whether t is one of the supported device types.
func (t Type) IsKnown() bool {
	switch t {
	case TypeOnOffLight, TypeDimmableLight, TypeOnOffSocket,
		TypeContactSensor, TypeTemperatureSensor:
		return true
	}
	return false
}

// Battery chemistry categories for battery-backed devices.
const (
	BatTypeReplaceable  = "replaceable"
	BatTypeRechargeable = "rechargeable"
)

// Descriptor is the flow-side description of one virtual device.
// The JSON field names are part of the flow contract and must not change.
type Descriptor struct {
	// ID uniquely identifies the device within one bridge.
	ID string `json:"id"`

	// Name is the label exposed to controllers.
	Name string `json:"name"`

	// Type selects the device variant.
	Type Type `json:"type"`

	// Bat enables the battery subsystem for this device.
	Bat bool `json:"bat"`

	// BatType selects the battery chemistry (replaceable or rechargeable).
	// Only meaningful when Bat is true.
	BatType string `json:"batType,omitempty"`

	// Passthrough forwards accepted inbound commands straight to the
	// flow output and suppresses the protocol echo, so downstream flow
	// logic can react to commands without re-triggering on the echo.
	Passthrough bool `json:"passthrough,omitempty"`
}

// State holds the current attribute values of one device.
// Keys are attribute names, values are normalized attribute values.
type State map[string]any

// DeepCopy creates a complete independent copy of the state.
// Nested maps and slices are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (s State) DeepCopy() State {
	return State(deepCopyMap(s))
}

// BatteryLevel is the coarse battery level reported to controllers.
type BatteryLevel int

// Battery levels as exposed on the power source cluster.
const (
	BatteryLevelOK       BatteryLevel = 0
	BatteryLevelLow      BatteryLevel = 1
	BatteryLevelCritical BatteryLevel = 2
)

// BatteryStatus is a decoded battery update from the flow side.
type BatteryStatus struct {
	// Level is the coarse battery level (0=ok, 1=low, 2=critical).
	Level BatteryLevel

	// Percent is the remaining charge, 0-100.
	Percent int

	// Charging reports whether the battery is currently charging.
	// Ignored for devices with a replaceable battery.
	Charging bool
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return val
	}
}
