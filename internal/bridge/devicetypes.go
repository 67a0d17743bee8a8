package bridge

import (
	"fmt"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// Dimmable level bounds, matching the level-control cluster range.
const (
	minLevel = 0
	maxLevel = 254
)

// DeviceType defines the behaviour of one virtual device variant: which
// clusters its endpoint declares, how flow payloads map onto attribute
// writes, and how protocol changes map back onto flow messages.
//
// The set of implementations is closed; DeviceTypeFor selects one at
// registration time.
type DeviceType interface {
	// Name returns the device-type tag.
	Name() string

	// Clusters declares the endpoint's attribute schema.
	Clusters() []matter.Cluster

	// InitialAttributes seeds the endpoint state.
	InitialAttributes() map[string]any

	// WritesFor validates a flow payload and maps it to attribute
	// writes. Failures wrap ErrInvalidValue.
	WritesFor(topic string, payload any) ([]PendingWrite, error)

	// OutputFor maps a committed attribute change to a flow message.
	// The second return is false for attributes with no flow surface.
	OutputFor(attribute string, value any) (FlowMessage, bool)
}

// DeviceTypeFor selects the implementation for a device-type tag.
func DeviceTypeFor(t device.Type) (DeviceType, error) {
	switch t {
	case device.TypeOnOffLight:
		return onOffType{name: string(device.TypeOnOffLight)}, nil
	case device.TypeOnOffSocket:
		return onOffType{name: string(device.TypeOnOffSocket)}, nil
	case device.TypeDimmableLight:
		return dimmableLightType{}, nil
	case device.TypeContactSensor:
		return contactSensorType{}, nil
	case device.TypeTemperatureSensor:
		return temperatureSensorType{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown device type %q", ErrConstructionFailed, t)
	}
}

// onOffType covers the single-switch variants: lights and socket
// outlets that only switch on and off.
type onOffType struct {
	name string
}

func (t onOffType) Name() string { return t.name }

func (onOffType) Clusters() []matter.Cluster {
	return []matter.Cluster{{Name: "onOff", Attributes: []string{"onOff"}}}
}

func (onOffType) InitialAttributes() map[string]any {
	return map[string]any{"onOff": false}
}

func (onOffType) WritesFor(_ string, payload any) ([]PendingWrite, error) {
	if fields, ok := payload.(map[string]any); ok {
		return onOffObjectWrites(fields)
	}

	on, err := Normalize(payload, SemanticBoolean)
	if err != nil {
		return nil, err
	}
	return []PendingWrite{{Attribute: "onOff", Value: on}}, nil
}

func (onOffType) OutputFor(attribute string, value any) (FlowMessage, bool) {
	if attribute != "onOff" {
		return FlowMessage{}, false
	}
	return FlowMessage{Topic: "onOff", Payload: value}, true
}

// onOffObjectWrites handles the object payload form {onOff: ...}.
func onOffObjectWrites(fields map[string]any) ([]PendingWrite, error) {
	raw, ok := fields["onOff"]
	if !ok {
		return nil, fmt.Errorf("%w: expected onOff field, received %v", ErrInvalidValue, fields)
	}
	on, err := Normalize(raw, SemanticBoolean)
	if err != nil {
		return nil, err
	}
	return []PendingWrite{{Attribute: "onOff", Value: on}}, nil
}

// dimmableLightType adds level control on top of on/off switching.
// Bare booleans switch, bare numbers dim, objects may do both.
type dimmableLightType struct{}

func (dimmableLightType) Name() string { return string(device.TypeDimmableLight) }

func (dimmableLightType) Clusters() []matter.Cluster {
	return []matter.Cluster{
		{Name: "onOff", Attributes: []string{"onOff"}},
		{Name: "levelControl", Attributes: []string{"level"}},
	}
}

func (dimmableLightType) InitialAttributes() map[string]any {
	return map[string]any{"onOff": false, "level": float64(minLevel)}
}

func (dimmableLightType) WritesFor(_ string, payload any) ([]PendingWrite, error) {
	switch p := payload.(type) {
	case bool:
		return []PendingWrite{{Attribute: "onOff", Value: p}}, nil

	case map[string]any:
		var writes []PendingWrite
		if raw, ok := p["onOff"]; ok {
			on, err := Normalize(raw, SemanticBoolean)
			if err != nil {
				return nil, err
			}
			writes = append(writes, PendingWrite{Attribute: "onOff", Value: on})
		}
		if raw, ok := p["level"]; ok {
			level, err := normalizeLevel(raw)
			if err != nil {
				return nil, err
			}
			writes = append(writes, PendingWrite{Attribute: "level", Value: level})
		}
		if len(writes) == 0 {
			return nil, fmt.Errorf("%w: expected onOff or level fields, received %v", ErrInvalidValue, p)
		}
		return writes, nil

	default:
		level, err := normalizeLevel(payload)
		if err != nil {
			return nil, err
		}
		return []PendingWrite{{Attribute: "level", Value: level}}, nil
	}
}

func (dimmableLightType) OutputFor(attribute string, value any) (FlowMessage, bool) {
	switch attribute {
	case "onOff", "level":
		return FlowMessage{Topic: attribute, Payload: value}, true
	}
	return FlowMessage{}, false
}

func normalizeLevel(raw any) (any, error) {
	level, err := Normalize(raw, SemanticNumber)
	if err != nil {
		return nil, err
	}
	if n := level.(float64); n < minLevel || n > maxLevel {
		return nil, fmt.Errorf("%w: level must be %d-%d, received %v", ErrInvalidValue, minLevel, maxLevel, raw)
	}
	return level, nil
}

// contactSensorType reports a boolean contact state from the flow side.
type contactSensorType struct{}

func (contactSensorType) Name() string { return string(device.TypeContactSensor) }

func (contactSensorType) Clusters() []matter.Cluster {
	return []matter.Cluster{{Name: "booleanState", Attributes: []string{"contact"}}}
}

func (contactSensorType) InitialAttributes() map[string]any {
	return map[string]any{"contact": true}
}

func (contactSensorType) WritesFor(_ string, payload any) ([]PendingWrite, error) {
	contact, err := Normalize(payload, SemanticBoolean)
	if err != nil {
		return nil, err
	}
	return []PendingWrite{{Attribute: "contact", Value: contact}}, nil
}

func (contactSensorType) OutputFor(attribute string, value any) (FlowMessage, bool) {
	if attribute != "contact" {
		return FlowMessage{}, false
	}
	return FlowMessage{Topic: "contact", Payload: value}, true
}

// temperatureSensorType reports a numeric temperature from the flow
// side, in hundredths of a degree like the measurement cluster.
type temperatureSensorType struct{}

func (temperatureSensorType) Name() string { return string(device.TypeTemperatureSensor) }

func (temperatureSensorType) Clusters() []matter.Cluster {
	return []matter.Cluster{{Name: "temperatureMeasurement", Attributes: []string{"temperature"}}}
}

func (temperatureSensorType) InitialAttributes() map[string]any {
	return map[string]any{"temperature": float64(0)}
}

func (temperatureSensorType) WritesFor(_ string, payload any) ([]PendingWrite, error) {
	temp, err := Normalize(payload, SemanticNumber)
	if err != nil {
		return nil, err
	}
	return []PendingWrite{{Attribute: "temperature", Value: temp}}, nil
}

func (temperatureSensorType) OutputFor(attribute string, value any) (FlowMessage, bool) {
	if attribute != "temperature" {
		return FlowMessage{}, false
	}
	return FlowMessage{Topic: "temperature", Payload: value}, true
}
