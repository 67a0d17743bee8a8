package bridge

import (
	"errors"
	"testing"

	"github.com/8none1/node-red-matter-bridge/internal/device"
)

func TestDeviceTypeFor(t *testing.T) {
	for _, typ := range device.KnownTypes {
		dt, err := DeviceTypeFor(typ)
		if err != nil {
			t.Errorf("DeviceTypeFor(%s) error = %v", typ, err)
			continue
		}
		if dt.Name() != string(typ) {
			t.Errorf("Name() = %q, want %q", dt.Name(), typ)
		}
		if len(dt.Clusters()) == 0 {
			t.Errorf("%s has no clusters", typ)
		}
		if len(dt.InitialAttributes()) == 0 {
			t.Errorf("%s has no initial attributes", typ)
		}
	}

	if _, err := DeviceTypeFor("doorlock"); !errors.Is(err, ErrConstructionFailed) {
		t.Errorf("DeviceTypeFor(doorlock) error = %v, want ErrConstructionFailed", err)
	}
}

func TestOnOffType_WritesFor(t *testing.T) {
	dt, _ := DeviceTypeFor(device.TypeOnOffLight)

	writes, err := dt.WritesFor("", true)
	if err != nil {
		t.Fatalf("WritesFor(true) error = %v", err)
	}
	if len(writes) != 1 || writes[0].Attribute != "onOff" || writes[0].Value != true {
		t.Errorf("writes = %v, want onOff=true", writes)
	}

	// Object form
	writes, err = dt.WritesFor("", map[string]any{"onOff": "off"})
	if err != nil {
		t.Fatalf("WritesFor(object) error = %v", err)
	}
	if writes[0].Value != false {
		t.Errorf("writes = %v, want onOff=false", writes)
	}

	if _, err := dt.WritesFor("", "dim"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("WritesFor(dim) error = %v, want ErrInvalidValue", err)
	}
}

func TestDimmableLightType_WritesFor(t *testing.T) {
	dt, _ := DeviceTypeFor(device.TypeDimmableLight)

	tests := []struct {
		name    string
		payload any
		want    []PendingWrite
		fails   bool
	}{
		{"bool switches", true, []PendingWrite{{Attribute: "onOff", Value: true}}, false},
		{"number dims", float64(128), []PendingWrite{{Attribute: "level", Value: float64(128)}}, false},
		{
			"object does both",
			map[string]any{"onOff": true, "level": float64(200)},
			[]PendingWrite{{Attribute: "onOff", Value: true}, {Attribute: "level", Value: float64(200)}},
			false,
		},
		{"level over range", float64(255), nil, true},
		{"level negative", float64(-1), nil, true},
		{"empty object", map[string]any{}, nil, true},
		{"garbage", "bright", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes, err := dt.WritesFor("", tt.payload)
			if tt.fails {
				if !errors.Is(err, ErrInvalidValue) {
					t.Errorf("WritesFor(%v) error = %v, want ErrInvalidValue", tt.payload, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("WritesFor(%v) error = %v", tt.payload, err)
			}
			if len(writes) != len(tt.want) {
				t.Fatalf("writes = %v, want %v", writes, tt.want)
			}
			for i := range writes {
				if writes[i] != tt.want[i] {
					t.Errorf("write[%d] = %+v, want %+v", i, writes[i], tt.want[i])
				}
			}
		})
	}
}

func TestSensorTypes_WritesFor(t *testing.T) {
	contact, _ := DeviceTypeFor(device.TypeContactSensor)
	writes, err := contact.WritesFor("", false)
	if err != nil {
		t.Fatalf("contact WritesFor(false) error = %v", err)
	}
	if writes[0].Attribute != "contact" || writes[0].Value != false {
		t.Errorf("writes = %v, want contact=false", writes)
	}

	temp, _ := DeviceTypeFor(device.TypeTemperatureSensor)
	writes, err = temp.WritesFor("", 2150)
	if err != nil {
		t.Fatalf("temperature WritesFor(2150) error = %v", err)
	}
	if writes[0].Attribute != "temperature" || writes[0].Value != float64(2150) {
		t.Errorf("writes = %v, want temperature=2150", writes)
	}

	if _, err := temp.WritesFor("", "cold"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("temperature WritesFor(cold) error = %v, want ErrInvalidValue", err)
	}
}

func TestOutputFor(t *testing.T) {
	dt, _ := DeviceTypeFor(device.TypeDimmableLight)

	msg, ok := dt.OutputFor("level", float64(64))
	if !ok || msg.Topic != "level" || msg.Payload != float64(64) {
		t.Errorf("OutputFor(level) = %+v, %v", msg, ok)
	}

	// Power-source attributes have no device-type flow surface
	if _, ok := dt.OutputFor(attrBatLevel, float64(1)); ok {
		t.Error("OutputFor(batLevel) should not produce a device-type message")
	}
}
