package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// mockOutput implements Output for testing.
type mockOutput struct {
	mu        sync.Mutex
	messages  []FlowMessage
	statuses  []StatusMessage
	writes    []recordedWrite
	batteries []device.BatteryStatus
}

type recordedWrite struct {
	DeviceID  string
	Attribute string
	Value     any
	Origin    string
}

func (m *mockOutput) EmitMessage(deviceID string, msg FlowMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockOutput) EmitStatus(deviceID string, status StatusMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *mockOutput) RecordWrite(deviceID, attribute string, value any, origin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, recordedWrite{deviceID, attribute, value, origin})
}

func (m *mockOutput) RecordBattery(deviceID string, status device.BatteryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batteries = append(m.batteries, status)
}

func (m *mockOutput) Messages() []FlowMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]FlowMessage, len(m.messages))
	copy(cpy, m.messages)
	return cpy
}

func (m *mockOutput) Statuses() []StatusMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]StatusMessage, len(m.statuses))
	copy(cpy, m.statuses)
	return cpy
}

func (m *mockOutput) Writes() []recordedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]recordedWrite, len(m.writes))
	copy(cpy, m.writes)
	return cpy
}

func (m *mockOutput) Batteries() []device.BatteryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]device.BatteryStatus, len(m.batteries))
	copy(cpy, m.batteries)
	return cpy
}

// waitFor polls until cond returns true or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// settle gives async processing a moment, for nothing-happened checks.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// newTestSynchronizer registers a device on a fresh environment and
// starts its synchronizer.
func newTestSynchronizer(t *testing.T, desc device.Descriptor) (*Synchronizer, *matter.Endpoint, *mockOutput) {
	t.Helper()
	ctx := context.Background()

	env := matter.NewEnvironment(matter.EnvironmentConfig{Name: "test"})
	if err := env.Start(ctx); err != nil {
		t.Fatalf("env.Start() error = %v", err)
	}
	t.Cleanup(func() { env.Stop(ctx) })

	agg, err := env.NewAggregator("bridged")
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	registry := NewRegistry(env, agg, nil)
	ep, err := registry.Register(ctx, desc)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	devType, err := DeviceTypeFor(desc.Type)
	if err != nil {
		t.Fatalf("DeviceTypeFor() error = %v", err)
	}

	out := &mockOutput{}
	s := newSynchronizer(desc, devType, BatteryConfigFor(desc), ep, out, nil)
	s.start()
	t.Cleanup(s.Close)

	return s, ep, out
}

func TestSynchronizer_FlowWriteIdempotence(t *testing.T) {
	// d1 with bat=false: {payload: true} writes onOff once; the resend
	// is suppressed by the change detector
	s, ep, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})

	if err := s.HandleInput(FlowMessage{Payload: true}); err != nil {
		t.Fatalf("HandleInput() error = %v", err)
	}
	waitFor(t, func() bool { return len(out.Writes()) == 1 }, "first write")

	if value, _ := ep.Attribute("onOff"); value != true {
		t.Errorf("endpoint onOff = %v, want true", value)
	}

	if err := s.HandleInput(FlowMessage{Payload: true}); err != nil {
		t.Fatalf("HandleInput() resend error = %v", err)
	}
	settle()

	writes := out.Writes()
	if len(writes) != 1 {
		t.Errorf("got %d committed writes after resend, want 1", len(writes))
	}
	if writes[0].Origin != device.OriginFlow {
		t.Errorf("write origin = %q, want flow", writes[0].Origin)
	}
}

func TestSynchronizer_PassthroughNoFeedbackLoop(t *testing.T) {
	// With passthrough enabled, a flow-originated write forwards the
	// command once and never re-emits the protocol echo
	s, _, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight, Passthrough: true,
	})

	msg := FlowMessage{Payload: true}
	if err := s.HandleInput(msg); err != nil {
		t.Fatalf("HandleInput() error = %v", err)
	}

	waitFor(t, func() bool { return len(out.Messages()) >= 1 }, "forwarded command")
	settle() // allow any echo to arrive

	messages := out.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d output messages, want exactly 1 (the forwarded command): %v", len(messages), messages)
	}
	if messages[0].Payload != true {
		t.Errorf("forwarded payload = %v, want true", messages[0].Payload)
	}

	// Echoes are consumed without recording a protocol-origin write
	for _, w := range out.Writes() {
		if w.Origin == device.OriginProtocol {
			t.Errorf("protocol-origin write recorded for self-echo: %+v", w)
		}
	}
}

func TestSynchronizer_ProtocolChangeEmitsOutput(t *testing.T) {
	_, ep, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})

	// An external controller command arrives as an untagged write
	if err := ep.Write(context.Background(), "onOff", true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	waitFor(t, func() bool { return len(out.Messages()) == 1 }, "protocol output")

	msg := out.Messages()[0]
	if msg.Topic != "onOff" || msg.Payload != true {
		t.Errorf("output = %+v, want onOff=true", msg)
	}

	// The same value again is suppressed by the change detector
	if err := ep.Write(context.Background(), "onOff", true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	settle()
	if got := len(out.Messages()); got != 1 {
		t.Errorf("got %d output messages after duplicate change, want 1", got)
	}
}

func TestSynchronizer_BatteryScenario(t *testing.T) {
	// d2 with bat=true, batType=replaceable: the battery message drives
	// the power-source attributes and Battery Status
	s, ep, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d2", Name: "Sensor", Type: device.TypeContactSensor,
		Bat: true, BatType: device.BatTypeReplaceable,
	})

	err := s.HandleInput(FlowMessage{
		Topic: "battery",
		Payload: map[string]any{
			"level":   float64(1),
			"percent": float64(20),
			"charge":  float64(0),
		},
	})
	if err != nil {
		t.Fatalf("HandleInput() error = %v", err)
	}

	waitFor(t, func() bool { return len(out.Writes()) == 2 }, "battery writes")

	if value, _ := ep.Attribute(attrBatLevel); value != float64(1) {
		t.Errorf("batLevel = %v, want 1", value)
	}
	if value, _ := ep.Attribute(attrBatPercent); value != float64(20) {
		t.Errorf("batPercent = %v, want 20", value)
	}

	status := BatteryStatusFromState(device.State(ep.Attributes()))
	want := device.BatteryStatus{Level: device.BatteryLevelLow, Percent: 20, Charging: false}
	if status != want {
		t.Errorf("battery status = %+v, want %+v", status, want)
	}

	// Each committed power-source write surfaces a battery snapshot.
	waitFor(t, func() bool { return len(out.Batteries()) == 2 }, "battery snapshots")
	snaps := out.Batteries()
	if snaps[len(snaps)-1] != want {
		t.Errorf("battery snapshot = %+v, want %+v", snaps[len(snaps)-1], want)
	}
}

func TestSynchronizer_InvalidBatteryPercentSurfacesError(t *testing.T) {
	s, ep, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d2", Name: "Sensor", Type: device.TypeContactSensor,
		Bat: true, BatType: device.BatTypeReplaceable,
	})

	err := s.HandleInput(FlowMessage{
		Topic:   "battery",
		Payload: map[string]any{"percent": float64(101)},
	})
	if err != nil {
		t.Fatalf("HandleInput() error = %v", err)
	}

	waitFor(t, func() bool {
		for _, st := range out.Statuses() {
			if st.Error != "" {
				return true
			}
		}
		return false
	}, "validation error status")

	for _, st := range out.Statuses() {
		if st.Error != "" && !strings.Contains(st.Error, "invalid value") {
			t.Errorf("status error = %q, want invalid value", st.Error)
		}
	}

	// Existing battery state is untouched
	if value, _ := ep.Attribute(attrBatPercent); value != float64(100) {
		t.Errorf("batPercent = %v, want initial 100", value)
	}
	if len(out.Writes()) != 0 {
		t.Errorf("got %d writes after invalid message, want 0", len(out.Writes()))
	}
}

func TestSynchronizer_InvalidValueDoesNotStopDevice(t *testing.T) {
	s, _, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})

	if err := s.HandleInput(FlowMessage{Payload: "garbage"}); err != nil {
		t.Fatalf("HandleInput() error = %v", err)
	}
	waitFor(t, func() bool {
		for _, st := range out.Statuses() {
			if st.Error != "" {
				return true
			}
		}
		return false
	}, "error status")

	// A valid message afterwards still works
	if err := s.HandleInput(FlowMessage{Payload: true}); err != nil {
		t.Fatalf("HandleInput() after failure error = %v", err)
	}
	waitFor(t, func() bool { return len(out.Writes()) == 1 }, "write after failure")
}

func TestSynchronizer_CloseIsIdempotent(t *testing.T) {
	s, _, _ := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})

	s.Close()
	s.Close()

	if got := s.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if err := s.HandleInput(FlowMessage{Payload: true}); err != ErrNotRunning {
		t.Errorf("HandleInput() after close error = %v, want ErrNotRunning", err)
	}
}

func TestSynchronizer_StateTransitions(t *testing.T) {
	s, _, out := newTestSynchronizer(t, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})

	if got := s.State(); got != StateActive {
		t.Errorf("State() after start = %v, want active", got)
	}

	s.Close()

	statuses := out.Statuses()
	if len(statuses) < 2 {
		t.Fatalf("got %d status messages, want active and closed", len(statuses))
	}
	if statuses[0].State != string(StateActive) {
		t.Errorf("first status = %q, want active", statuses[0].State)
	}
	if statuses[len(statuses)-1].State != string(StateClosed) {
		t.Errorf("last status = %q, want closed", statuses[len(statuses)-1].State)
	}
}

func TestSynchronizer_QueueFullDropsInput(t *testing.T) {
	// Built without start() so the event loop never drains the queue.
	devType, err := DeviceTypeFor(device.TypeOnOffLight)
	if err != nil {
		t.Fatalf("DeviceTypeFor() error = %v", err)
	}
	out := &mockOutput{}
	s := newSynchronizer(device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	}, devType, BatteryNone, nil, out, nil)
	s.setLifecycle(StateActive)

	for i := 0; i < eventQueueSize; i++ {
		if err := s.HandleInput(FlowMessage{Payload: true}); err != nil {
			t.Fatalf("HandleInput() %d error = %v", i, err)
		}
	}

	if err := s.HandleInput(FlowMessage{Payload: true}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("HandleInput() on full queue error = %v, want ErrQueueFull", err)
	}

	statuses := out.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("got %d status messages, want 1", len(statuses))
	}
	if statuses[0].Error != ErrQueueFull.Error() {
		t.Errorf("status error = %q, want %q", statuses[0].Error, ErrQueueFull.Error())
	}
}

func TestSynchronizer_TokenWindowEvictsOldest(t *testing.T) {
	devType, err := DeviceTypeFor(device.TypeOnOffLight)
	if err != nil {
		t.Fatalf("DeviceTypeFor() error = %v", err)
	}
	s := newSynchronizer(device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	}, devType, BatteryNone, nil, &mockOutput{}, nil)

	const extra = 10
	for i := 0; i < maxPendingTokens+extra; i++ {
		s.trackToken(fmt.Sprintf("tok-%d", i))
	}

	if len(s.pendingTokens) != maxPendingTokens {
		t.Fatalf("pending tokens = %d, want %d", len(s.pendingTokens), maxPendingTokens)
	}
	if _, ok := s.pendingTokens["tok-0"]; ok {
		t.Error("oldest token should have been evicted")
	}
	if _, ok := s.pendingTokens[fmt.Sprintf("tok-%d", extra-1)]; ok {
		t.Errorf("tok-%d should have been evicted", extra-1)
	}
	newest := fmt.Sprintf("tok-%d", maxPendingTokens+extra-1)
	if _, ok := s.pendingTokens[newest]; !ok {
		t.Errorf("newest token %s missing from the window", newest)
	}
}
