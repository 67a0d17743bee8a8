package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

const (
	// eventQueueSize bounds the per-device event queue. Flow input
	// handling never blocks: a full queue drops the message and surfaces
	// an error on the status topic.
	eventQueueSize = 64

	// maxPendingTokens bounds the echo-suppression window. Tokens for
	// writes whose echo never arrived are evicted oldest-first.
	maxPendingTokens = 128
)

// SyncState is the lifecycle state of one device synchronizer.
type SyncState string

// Synchronizer lifecycle states.
const (
	StateUnregistered SyncState = "unregistered"
	StateRegistering  SyncState = "registering"
	StateActive       SyncState = "active"
	StateClosing      SyncState = "closing"
	StateClosed       SyncState = "closed"
)

// Logger is the minimal logging interface the bridge packages need.
// Satisfied by *logging.Logger; a no-op logger is used when nil.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Output is where a synchronizer surfaces its results: flow output
// messages, status updates and committed-write records. Implemented by
// the Controller over MQTT, history and telemetry.
type Output interface {
	// EmitMessage publishes a flow output message for the device.
	EmitMessage(deviceID string, msg FlowMessage)

	// EmitStatus publishes a status update for the device.
	EmitStatus(deviceID string, status StatusMessage)

	// RecordWrite records one committed attribute write. Best-effort;
	// failures must not affect synchronization.
	RecordWrite(deviceID, attribute string, value any, origin string)

	// RecordBattery records a battery snapshot after a power-source
	// attribute commits. Best-effort, like RecordWrite.
	RecordBattery(deviceID string, status device.BatteryStatus)
}

// syncEvent is one unit of work for a synchronizer's event loop.
// Exactly one of msg or change is meaningful, selected by fromFlow.
type syncEvent struct {
	fromFlow bool
	msg      FlowMessage
	change   matter.Change
}

// Synchronizer keeps one device's protocol-visible state consistent
// with its flow-side commands and observations.
//
// Flow inputs and protocol change events are funnelled into a single
// event channel drained by one goroutine, so Device State has exactly
// one writer and needs no locking. Cross-device synchronizers run
// independently; one device's failures never touch another.
//
// Flow-originated writes carry a fresh correlation token. When the
// protocol layer echoes the write back as a change event, the matching
// token identifies it as a self-echo and the event is consumed without
// emitting a flow output. This is what breaks the flow → protocol →
// flow update cycle in passthrough mode, where the inbound command was
// already forwarded to the output side.
type Synchronizer struct {
	desc     device.Descriptor
	devType  DeviceType
	batCfg   BatteryConfig
	endpoint *matter.Endpoint
	out      Output
	logger   Logger

	events    chan syncEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	cancelSub func()

	// lifecycle is read concurrently via State(); everything below is
	// touched only by the run goroutine.
	mu        sync.RWMutex
	lifecycle SyncState

	state         device.State
	pendingTokens map[string]struct{}
	tokenOrder    []string
}

// newSynchronizer wires a synchronizer for a registered device. The
// caller starts it with start().
func newSynchronizer(desc device.Descriptor, devType DeviceType, batCfg BatteryConfig, ep *matter.Endpoint, out Output, logger Logger) *Synchronizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Synchronizer{
		desc:          desc,
		devType:       devType,
		batCfg:        batCfg,
		endpoint:      ep,
		out:           out,
		logger:        logger,
		events:        make(chan syncEvent, eventQueueSize),
		done:          make(chan struct{}),
		lifecycle:     StateRegistering,
		state:         make(device.State),
		pendingTokens: make(map[string]struct{}),
	}
}

// start subscribes to protocol change events and launches the event
// loop. The synchronizer transitions to Active.
func (s *Synchronizer) start() {
	// Seed the state cache from the endpoint so restored persisted
	// values take part in change detection from the first message.
	// Deep-copied: nested values must not be shared with the endpoint.
	s.state = device.State(s.endpoint.Attributes()).DeepCopy()

	s.cancelSub = s.endpoint.Subscribe(s.handleChange)

	s.setLifecycle(StateActive)
	s.out.EmitStatus(s.desc.ID, StatusMessage{State: string(StateActive)})
	s.logger.Info("device active", "device", s.desc.ID, "type", s.desc.Type)

	s.wg.Add(1)
	go s.run()
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

func (s *Synchronizer) setLifecycle(state SyncState) {
	s.mu.Lock()
	s.lifecycle = state
	s.mu.Unlock()
}

// HandleInput enqueues one inbound flow message. It never blocks the
// caller: a saturated queue drops the message, surfaces ErrQueueFull on
// the status topic and returns it.
func (s *Synchronizer) HandleInput(msg FlowMessage) error {
	if s.State() != StateActive {
		return ErrNotRunning
	}

	select {
	case s.events <- syncEvent{fromFlow: true, msg: msg}:
		return nil
	default:
		s.out.EmitStatus(s.desc.ID, StatusMessage{
			State: string(StateActive),
			Error: ErrQueueFull.Error(),
		})
		s.logger.Warn("event queue full, dropping flow message", "device", s.desc.ID)
		return ErrQueueFull
	}
}

// handleChange enqueues one protocol change event. Runs on the
// endpoint's subscriber goroutine; never blocks it.
func (s *Synchronizer) handleChange(change matter.Change) {
	select {
	case s.events <- syncEvent{change: change}:
	case <-s.done:
	default:
		s.logger.Warn("event queue full, dropping protocol change",
			"device", s.desc.ID,
			"attribute", change.Attribute,
		)
	}
}

// Close unsubscribes from protocol events and stops the event loop.
// Idempotent: closing an already-closed synchronizer is a no-op.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.setLifecycle(StateClosing)
		if s.cancelSub != nil {
			s.cancelSub()
		}
		close(s.done)
		s.wg.Wait()
		s.setLifecycle(StateClosed)
		s.out.EmitStatus(s.desc.ID, StatusMessage{State: string(StateClosed)})
		s.logger.Info("device closed", "device", s.desc.ID)
	})
}

// run is the single-writer event loop.
func (s *Synchronizer) run() {
	defer s.wg.Done()

	for {
		select {
		case ev := <-s.events:
			if ev.fromFlow {
				s.processFlowMessage(ev.msg)
			} else {
				s.processProtocolChange(ev.change)
			}
		case <-s.done:
			return
		}
	}
}

// processFlowMessage validates one inbound flow message and commits the
// resulting attribute writes.
func (s *Synchronizer) processFlowMessage(msg FlowMessage) {
	var (
		writes []PendingWrite
		err    error
	)

	if msg.Topic == "battery" {
		writes, err = ApplyBatteryMessage(s.batCfg, msg.Payload)
	} else {
		writes, err = s.devType.WritesFor(msg.Topic, msg.Payload)
	}
	if err != nil {
		s.reportError(err)
		return
	}

	for _, write := range writes {
		s.commitFlowWrite(write)
	}

	// Passthrough forwards the accepted command so downstream flow
	// logic reacts to it directly instead of waiting on the echo.
	if s.desc.Passthrough {
		s.out.EmitMessage(s.desc.ID, msg)
	}
}

// commitFlowWrite applies one flow-originated write: change detection,
// tagged protocol write, then state update. A rejected write leaves
// state untouched so the next change event retries naturally.
func (s *Synchronizer) commitFlowWrite(write PendingWrite) {
	current, exists := s.state[write.Attribute]
	if exists && !ValueChanged(current, write.Value) {
		s.logger.Debug("suppressing no-op write",
			"device", s.desc.ID,
			"attribute", write.Attribute,
		)
		return
	}

	token := uuid.NewString()
	s.trackToken(token)

	if err := s.endpoint.WriteTagged(context.Background(), write.Attribute, write.Value, token); err != nil {
		s.forgetToken(token)
		s.reportError(fmt.Errorf("%w: %w", ErrProtocolWriteFailed, err))
		return
	}

	s.state[write.Attribute] = write.Value
	s.out.RecordWrite(s.desc.ID, write.Attribute, write.Value, device.OriginFlow)
	s.recordBattery(write.Attribute)
}

// processProtocolChange applies one protocol-originated change event.
func (s *Synchronizer) processProtocolChange(change matter.Change) {
	// A pending token marks this event as the echo of our own write:
	// consume it silently. State already holds the value.
	if change.Token != "" {
		if _, pending := s.pendingTokens[change.Token]; pending {
			s.forgetToken(change.Token)
			return
		}
	}

	current, exists := s.state[change.Attribute]
	if exists && !ValueChanged(current, change.Value) {
		return
	}

	s.state[change.Attribute] = change.Value
	s.out.RecordWrite(s.desc.ID, change.Attribute, change.Value, device.OriginProtocol)
	s.recordBattery(change.Attribute)

	if msg, ok := s.devType.OutputFor(change.Attribute, change.Value); ok {
		s.out.EmitMessage(s.desc.ID, msg)
	} else if s.batCfg != BatteryNone && isBatteryAttribute(change.Attribute) {
		s.out.EmitMessage(s.desc.ID, FlowMessage{Topic: "battery", Payload: s.batteryPayload()})
	}
}

// recordBattery surfaces a battery snapshot when a power-source
// attribute committed.
func (s *Synchronizer) recordBattery(attribute string) {
	if s.batCfg == BatteryNone || !isBatteryAttribute(attribute) {
		return
	}
	s.out.RecordBattery(s.desc.ID, BatteryStatusFromState(s.state))
}

// batteryPayload renders the current battery state in the wire shape.
func (s *Synchronizer) batteryPayload() map[string]any {
	status := BatteryStatusFromState(s.state)
	payload := map[string]any{
		"level":   int(status.Level),
		"percent": status.Percent,
	}
	if s.batCfg == BatteryRechargeable {
		charge := 0
		if status.Charging {
			charge = 1
		}
		payload["charge"] = charge
	}
	return map[string]any{"battery": payload}
}

// trackToken registers a correlation token, evicting the oldest once
// the window is full.
func (s *Synchronizer) trackToken(token string) {
	if len(s.tokenOrder) >= maxPendingTokens {
		oldest := s.tokenOrder[0]
		s.tokenOrder = s.tokenOrder[1:]
		delete(s.pendingTokens, oldest)
	}
	s.pendingTokens[token] = struct{}{}
	s.tokenOrder = append(s.tokenOrder, token)
}

// forgetToken drops a token from the pending window.
func (s *Synchronizer) forgetToken(token string) {
	if _, ok := s.pendingTokens[token]; !ok {
		return
	}
	delete(s.pendingTokens, token)
	for i, t := range s.tokenOrder {
		if t == token {
			s.tokenOrder = append(s.tokenOrder[:i], s.tokenOrder[i+1:]...)
			break
		}
	}
}

// reportError surfaces a device-scoped failure on the status topic.
func (s *Synchronizer) reportError(err error) {
	s.out.EmitStatus(s.desc.ID, StatusMessage{
		State: string(s.State()),
		Error: err.Error(),
	})
	s.logger.Warn("device message failed", "device", s.desc.ID, "error", err)
}
