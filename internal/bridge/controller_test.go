package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		handlers: make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

// SimulateMessage simulates receiving an MQTT message on a topic.
// The handler for the matching wildcard subscription is invoked.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler != nil {
		handler(topic, payload)
	}
}

// topicMatches implements single-level wildcard matching for tests.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

func (m *MockMQTTClient) Published() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]mockPublish, len(m.published))
	copy(cpy, m.published)
	return cpy
}

func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			matches = append(matches, p)
		}
	}
	return matches
}

func (m *MockMQTTClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

func newTestController(t *testing.T, devices ...device.Descriptor) (*Controller, *MockMQTTClient) {
	t.Helper()

	client := NewMockMQTTClient()
	controller, err := NewController(Options{
		BridgeID: "b1",
		Name:     "Test Bridge",
		VendorID: 0xFFF1,
		Devices:  devices,
		MQTT:     client,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { controller.Stop(context.Background()) })

	return controller, client
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(Options{MQTT: NewMockMQTTClient()}); err == nil {
		t.Error("NewController() without bridge id should fail")
	}
	if _, err := NewController(Options{BridgeID: "b1"}); err == nil {
		t.Error("NewController() without mqtt client should fail")
	}
}

func TestController_StartRegistersDevicesAndSubscribes(t *testing.T) {
	controller, client := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
		device.Descriptor{ID: "d2", Name: "Sensor", Type: device.TypeTemperatureSensor},
	)

	for _, id := range []string{"d1", "d2"} {
		if _, ok := controller.Synchronizer(id); !ok {
			t.Errorf("no synchronizer for %s", id)
		}
	}
	if !client.Subscribed("matterbridge/b1/+/in") {
		t.Error("input topic not subscribed")
	}
}

func TestController_PublishesCommissioningRetained(t *testing.T) {
	controller, client := newTestController(t)

	published := client.PublishedTo("matterbridge/b1/commissioning")
	if len(published) == 0 {
		t.Fatal("no commissioning publication")
	}
	if !published[0].Retained {
		t.Error("commissioning info should be retained")
	}

	var info struct {
		Passcode      uint32 `json:"passcode"`
		Discriminator uint16 `json:"discriminator"`
		ManualCode    string `json:"manualCode"`
		QRPayload     string `json:"qrPayload"`
	}
	if err := json.Unmarshal(published[0].Payload, &info); err != nil {
		t.Fatalf("unmarshalling commissioning info: %v", err)
	}
	if len(info.ManualCode) != 11 {
		t.Errorf("manual code %q length = %d, want 11", info.ManualCode, len(info.ManualCode))
	}
	if !strings.HasPrefix(info.QRPayload, "MT:") {
		t.Errorf("qr payload %q missing MT: prefix", info.QRPayload)
	}

	// Commission returns the same parameters for the whole run
	pairing, err := controller.Commission()
	if err != nil {
		t.Fatalf("Commission() error = %v", err)
	}
	if pairing.Passcode != info.Passcode || pairing.ManualCode != info.ManualCode {
		t.Error("Commission() returned different parameters than published")
	}
}

func TestController_AddFabricRepublishesCommissioning(t *testing.T) {
	client := NewMockMQTTClient()

	controller, err := NewController(Options{
		BridgeID: "b1",
		Name:     "Test Bridge",
		MQTT:     client,
		Store:    matter.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { controller.Stop(context.Background()) })

	if err := controller.AddFabric(context.Background(), "fabric-1", "home"); err != nil {
		t.Fatalf("AddFabric() error = %v", err)
	}

	published := client.PublishedTo("matterbridge/b1/commissioning")
	if len(published) < 2 {
		t.Fatalf("got %d commissioning publications, want at least 2", len(published))
	}
	var info struct {
		Fabrics []string `json:"fabrics"`
	}
	if err := json.Unmarshal(published[len(published)-1].Payload, &info); err != nil {
		t.Fatalf("unmarshalling commissioning info: %v", err)
	}
	if len(info.Fabrics) != 1 || info.Fabrics[0] != "fabric-1" {
		t.Errorf("fabrics = %v, want [fabric-1]", info.Fabrics)
	}

	controller.Stop(context.Background())
	if err := controller.AddFabric(context.Background(), "fabric-2", "work"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("AddFabric() after stop error = %v, want ErrNotRunning", err)
	}
}

func TestController_BatteryInputReachesTelemetry(t *testing.T) {
	client := NewMockMQTTClient()
	telemetry := &mockTelemetry{}

	controller, err := NewController(Options{
		BridgeID: "b1",
		Name:     "Test Bridge",
		Devices: []device.Descriptor{
			{ID: "d2", Name: "Sensor", Type: device.TypeContactSensor,
				Bat: true, BatType: device.BatTypeReplaceable},
		},
		MQTT:      client,
		Telemetry: telemetry,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { controller.Stop(context.Background()) })

	client.SimulateMessage("matterbridge/b1/d2/in",
		[]byte(`{"topic": "battery", "payload": {"level": 1, "percent": 20}}`))

	waitFor(t, func() bool { return len(telemetry.Batteries()) >= 1 }, "battery snapshot")

	snaps := telemetry.Batteries()
	last := snaps[len(snaps)-1]
	if last.DeviceID != "d2" || last.Percent != 20 {
		t.Errorf("battery snapshot = %+v, want device d2 at 20 percent", last)
	}
}

// memoryHistory implements device.StateHistoryRepository for tests.
type memoryHistory struct {
	mu      sync.Mutex
	entries []device.StateHistoryEntry
}

func (h *memoryHistory) RecordWrite(_ context.Context, deviceID, attribute string, value any, origin string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, device.StateHistoryEntry{
		DeviceID:  deviceID,
		Attribute: attribute,
		Value:     value,
		Origin:    origin,
	})
	return nil
}

func (h *memoryHistory) GetHistory(_ context.Context, deviceID string, _ int) ([]device.StateHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []device.StateHistoryEntry
	for _, e := range h.entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *memoryHistory) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (h *memoryHistory) Entries() []device.StateHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	cpy := make([]device.StateHistoryEntry, len(h.entries))
	copy(cpy, h.entries)
	return cpy
}

// mockTelemetry implements Telemetry for tests.
type mockTelemetry struct {
	mu        sync.Mutex
	batteries []batterySnapshot
}

type batterySnapshot struct {
	DeviceID string
	Percent  float64
	Level    int
	Charging bool
}

func (m *mockTelemetry) WriteAttribute(deviceID, attribute string, value float64) {}

func (m *mockTelemetry) WriteBatteryStatus(deviceID string, percent float64, level int, charging bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batteries = append(m.batteries, batterySnapshot{deviceID, percent, level, charging})
}

func (m *mockTelemetry) Batteries() []batterySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]batterySnapshot, len(m.batteries))
	copy(cpy, m.batteries)
	return cpy
}

func TestController_RoutesInputToDevice(t *testing.T) {
	client := NewMockMQTTClient()
	history := &memoryHistory{}

	controller, err := NewController(Options{
		BridgeID: "b1",
		Name:     "Test Bridge",
		Devices: []device.Descriptor{
			{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
		},
		MQTT:    client,
		History: history,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { controller.Stop(context.Background()) })

	client.SimulateMessage("matterbridge/b1/d1/in", []byte(`{"payload": true}`))

	waitFor(t, func() bool {
		for _, e := range history.Entries() {
			if e.DeviceID == "d1" && e.Attribute == "onOff" && e.Origin == device.OriginFlow {
				return true
			}
		}
		return false
	}, "committed write recorded")

	// Non-passthrough: committed write, no output message, no error status
	settle()
	if got := client.PublishedTo("matterbridge/b1/d1/out"); len(got) != 0 {
		t.Errorf("unexpected output messages: %v", got)
	}
	for _, p := range client.PublishedTo("matterbridge/b1/d1/status") {
		var status StatusMessage
		if err := json.Unmarshal(p.Payload, &status); err == nil && status.Error != "" {
			t.Errorf("unexpected error status: %s", status.Error)
		}
	}
}

func TestController_PassthroughForwardsInput(t *testing.T) {
	_, client := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight, Passthrough: true},
	)

	client.SimulateMessage("matterbridge/b1/d1/in", []byte(`{"payload": true}`))

	waitFor(t, func() bool {
		return len(client.PublishedTo("matterbridge/b1/d1/out")) >= 1
	}, "forwarded output")
	settle()

	outputs := client.PublishedTo("matterbridge/b1/d1/out")
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want exactly 1 (no echo): %v", len(outputs), outputs)
	}

	var msg FlowMessage
	if err := json.Unmarshal(outputs[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshalling output: %v", err)
	}
	if msg.Payload != true {
		t.Errorf("forwarded payload = %v, want true", msg.Payload)
	}
}

func TestController_MalformedInputSurfacesStatus(t *testing.T) {
	_, client := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
	)

	client.SimulateMessage("matterbridge/b1/d1/in", []byte(`{not json`))

	waitFor(t, func() bool {
		for _, p := range client.PublishedTo("matterbridge/b1/d1/status") {
			var status StatusMessage
			if json.Unmarshal(p.Payload, &status) == nil && status.Error != "" {
				return true
			}
		}
		return false
	}, "error status")
}

func TestController_DuplicateSeedSurfacesError(t *testing.T) {
	controller, client := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
		device.Descriptor{ID: "d1", Name: "Clone", Type: device.TypeOnOffSocket},
	)

	// First registration wins; the duplicate surfaced an error status
	if s, ok := controller.Synchronizer("d1"); !ok || s.State() != StateActive {
		t.Error("first device should be active")
	}

	found := false
	for _, p := range client.PublishedTo("matterbridge/b1/d1/status") {
		var status StatusMessage
		if json.Unmarshal(p.Payload, &status) == nil && strings.Contains(status.Error, "duplicate") {
			found = true
		}
	}
	if !found {
		t.Error("no duplicate-id error status published")
	}
}

func TestController_DeregisterDevice(t *testing.T) {
	controller, _ := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
	)
	ctx := context.Background()

	controller.DeregisterDevice(ctx, "d1")
	controller.DeregisterDevice(ctx, "d1")    // no-op
	controller.DeregisterDevice(ctx, "ghost") // no-op

	if _, ok := controller.Synchronizer("d1"); ok {
		t.Error("synchronizer still present after deregistration")
	}

	// Registering again works
	if err := controller.RegisterDevice(ctx, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	}); err != nil {
		t.Errorf("RegisterDevice() after deregister error = %v", err)
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	controller, client := newTestController(t,
		device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight},
	)
	ctx := context.Background()

	if err := controller.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := controller.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	if client.Subscribed("matterbridge/b1/+/in") {
		t.Error("input subscription should be removed on stop")
	}
	if _, err := controller.Commission(); err != ErrNotRunning {
		t.Errorf("Commission() after stop error = %v, want ErrNotRunning", err)
	}
}
