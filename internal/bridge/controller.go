package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/mqtt"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// recordTimeout bounds best-effort history writes so a slow database
// cannot stall a synchronizer's event loop.
const recordTimeout = 5 * time.Second

// MQTTClient is the transport interface the controller needs.
// Satisfied by an adapter over the infrastructure client, or a mock in
// tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error
}

// Telemetry records committed attribute writes and battery snapshots as
// time-series points. Satisfied by the influxdb client. Optional.
type Telemetry interface {
	WriteAttribute(deviceID, attribute string, value float64)
	WriteBatteryStatus(deviceID string, percent float64, level int, charging bool)
}

// Options configures a Controller.
type Options struct {
	// BridgeID scopes the MQTT topic tree for this bridge instance.
	BridgeID string

	// Name is the bridge name advertised during commissioning.
	Name string

	// VendorID and ProductID identify the bridge product.
	VendorID  uint16
	ProductID uint16

	// Devices are registered at startup.
	Devices []device.Descriptor

	// MQTT is the flow-side transport. Required.
	MQTT MQTTClient

	// Store persists endpoint state and fabric records across
	// restarts. Optional.
	Store matter.Store

	// History records committed writes locally. Optional.
	History device.StateHistoryRepository

	// Telemetry records committed writes as time-series points. Optional.
	Telemetry Telemetry

	// Logger receives bridge events. Optional.
	Logger Logger
}

// Controller owns the protocol environment lifecycle and orchestrates
// registry and synchronizer lifecycles on top of it.
//
// Start brings the environment up, registers the configured devices and
// subscribes the flow input topics. Commissioning parameters are
// generated once per run and published retained, so controllers can
// pair at any point during the run.
//
// Thread Safety: all methods are safe for concurrent use.
type Controller struct {
	opts   Options
	logger Logger
	topics mqtt.Topics

	mu       sync.Mutex
	running  bool
	env      *matter.Environment
	agg      *matter.Aggregator
	registry *Registry
	syncs    map[string]*Synchronizer
	pairing  matter.Pairing
	inTopic  string
}

// NewController creates a controller from options.
func NewController(opts Options) (*Controller, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge: bridge id is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: mqtt client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Controller{
		opts:   opts,
		logger: logger,
		syncs:  make(map[string]*Synchronizer),
	}, nil
}

// Start initializes the protocol environment, registers the configured
// devices and begins routing flow input.
//
// Environment-level failures abort the start and wrap
// ErrEnvironmentFailure. Per-device registration failures are surfaced
// on that device's status topic and do not abort the start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("bridge: already started")
	}

	env := matter.NewEnvironment(matter.EnvironmentConfig{
		Name:      c.opts.Name,
		VendorID:  c.opts.VendorID,
		ProductID: c.opts.ProductID,
		Store:     c.opts.Store,
		Logger:    c.logger,
	})
	if err := env.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironmentFailure, err)
	}

	agg, err := env.NewAggregator(c.opts.Name)
	if err != nil {
		env.Stop(ctx)
		return fmt.Errorf("%w: %w", ErrEnvironmentFailure, err)
	}

	pairing, err := matter.GeneratePairing()
	if err != nil {
		env.Stop(ctx)
		return fmt.Errorf("%w: %w", ErrEnvironmentFailure, err)
	}

	c.env = env
	c.agg = agg
	c.registry = NewRegistry(env, agg, c.logger)
	c.pairing = pairing
	c.running = true

	for _, desc := range c.opts.Devices {
		if err := c.registerLocked(ctx, desc); err != nil {
			c.EmitStatus(desc.ID, StatusMessage{
				State: string(StateUnregistered),
				Error: err.Error(),
			})
			c.logger.Error("device registration failed", "device", desc.ID, "error", err)
		}
	}

	c.inTopic = c.topics.AllDeviceInputs(c.opts.BridgeID)
	if err := c.opts.MQTT.Subscribe(c.inTopic, 1, c.routeInput); err != nil {
		c.shutdownLocked(ctx)
		return fmt.Errorf("%w: subscribing inputs: %w", ErrEnvironmentFailure, err)
	}

	c.publishCommissioningLocked()
	c.logger.Info("bridge started",
		"bridge", c.opts.BridgeID,
		"devices", len(c.syncs),
	)
	return nil
}

// Commission returns the pairing parameters for this run and republishes
// them on the commissioning topic.
func (c *Controller) Commission() (matter.Pairing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return matter.Pairing{}, ErrNotRunning
	}
	c.publishCommissioningLocked()
	return c.pairing, nil
}

// AddFabric records a commissioned fabric and republishes the
// commissioning info so subscribers see the updated membership.
func (c *Controller) AddFabric(ctx context.Context, fabricID, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if err := c.env.AddFabric(ctx, fabricID, label); err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironmentFailure, err)
	}
	c.publishCommissioningLocked()
	return nil
}

// RegisterDevice registers one device at runtime.
func (c *Controller) RegisterDevice(ctx context.Context, desc device.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	return c.registerLocked(ctx, desc)
}

// DeregisterDevice removes one device. Unknown ids are a no-op.
func (c *Controller) DeregisterDevice(ctx context.Context, id string) {
	c.mu.Lock()
	s, ok := c.syncs[id]
	if ok {
		delete(c.syncs, id)
	}
	registry := c.registry
	c.mu.Unlock()

	if ok {
		s.Close()
	}
	if registry != nil {
		registry.Deregister(ctx, id)
	}
}

// Stop deregisters every device and tears the environment down.
// Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.shutdownLocked(ctx)
	c.logger.Info("bridge stopped", "bridge", c.opts.BridgeID)
	return nil
}

// Synchronizer returns the active synchronizer for a device id.
func (c *Controller) Synchronizer(id string) (*Synchronizer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.syncs[id]
	return s, ok
}

// registerLocked builds and starts one device's registration and
// synchronizer. Caller holds c.mu.
func (c *Controller) registerLocked(ctx context.Context, desc device.Descriptor) error {
	ep, err := c.registry.Register(ctx, desc)
	if err != nil {
		return err
	}

	devType, err := DeviceTypeFor(desc.Type)
	if err != nil {
		// Unreachable after a successful Register, which resolved the
		// same type.
		c.registry.Deregister(ctx, desc.ID)
		return err
	}

	s := newSynchronizer(desc, devType, BatteryConfigFor(desc), ep, c, c.logger)
	c.syncs[desc.ID] = s
	s.start()
	return nil
}

// shutdownLocked stops synchronizers, registry and environment.
// Caller holds c.mu.
func (c *Controller) shutdownLocked(ctx context.Context) {
	c.running = false

	if c.inTopic != "" {
		if err := c.opts.MQTT.Unsubscribe(c.inTopic); err != nil {
			c.logger.Warn("unsubscribing inputs failed", "error", err)
		}
		c.inTopic = ""
	}

	for id, s := range c.syncs {
		s.Close()
		delete(c.syncs, id)
	}
	if c.registry != nil {
		c.registry.Close(ctx)
		c.registry = nil
	}
	if c.env != nil {
		c.env.Stop(ctx)
		c.env = nil
		c.agg = nil
	}
}

// routeInput dispatches one inbound MQTT message to its device's
// synchronizer. Runs on the MQTT client's callback goroutine and never
// blocks: synchronizers enqueue without waiting.
func (c *Controller) routeInput(topic string, payload []byte) {
	deviceID := mqtt.DeviceIDFromTopic(topic)
	if deviceID == "" {
		c.logger.Warn("input on malformed topic", "topic", topic)
		return
	}

	c.mu.Lock()
	s, ok := c.syncs[deviceID]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("input for unknown device", "device", deviceID)
		return
	}

	var msg FlowMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.EmitStatus(deviceID, StatusMessage{
			State: string(s.State()),
			Error: fmt.Sprintf("%v: %v", ErrInvalidValue, err),
		})
		return
	}

	// Errors are already surfaced on the status topic.
	_ = s.HandleInput(msg)
}

// publishCommissioningLocked publishes pairing info retained so late
// subscribers still see it. Caller holds c.mu.
func (c *Controller) publishCommissioningLocked() {
	info := map[string]any{
		"passcode":      c.pairing.Passcode,
		"discriminator": c.pairing.Discriminator,
		"manualCode":    c.pairing.ManualCode,
		"qrPayload":     matter.QRPayload(c.opts.VendorID, c.opts.ProductID, c.pairing),
		"name":          c.opts.Name,
	}
	if fabrics, err := c.env.Fabrics(context.Background()); err != nil {
		c.logger.Warn("listing fabrics failed", "error", err)
	} else if len(fabrics) > 0 {
		info["fabrics"] = fabrics
	}

	payload, err := json.Marshal(info)
	if err != nil {
		c.logger.Error("marshalling commissioning info failed", "error", err)
		return
	}

	topic := c.topics.Commissioning(c.opts.BridgeID)
	if err := c.opts.MQTT.Publish(topic, payload, 1, true); err != nil {
		c.logger.Error("publishing commissioning info failed", "error", err)
	}
}

// EmitMessage publishes a flow output message on the device's out topic.
func (c *Controller) EmitMessage(deviceID string, msg FlowMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshalling output failed", "device", deviceID, "error", err)
		return
	}

	topic := c.topics.DeviceOut(c.opts.BridgeID, deviceID)
	if err := c.opts.MQTT.Publish(topic, payload, 1, false); err != nil {
		c.logger.Warn("publishing output failed", "device", deviceID, "error", err)
	}
}

// EmitStatus publishes a status update on the device's status topic.
func (c *Controller) EmitStatus(deviceID string, status StatusMessage) {
	payload, err := json.Marshal(status)
	if err != nil {
		c.logger.Error("marshalling status failed", "device", deviceID, "error", err)
		return
	}

	topic := c.topics.DeviceStatus(c.opts.BridgeID, deviceID)
	if err := c.opts.MQTT.Publish(topic, payload, 1, false); err != nil {
		c.logger.Warn("publishing status failed", "device", deviceID, "error", err)
	}
}

// RecordWrite records one committed attribute write in the local
// history and the telemetry sink. Best-effort: failures are logged and
// never affect synchronization.
func (c *Controller) RecordWrite(deviceID, attribute string, value any, origin string) {
	if c.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.opts.History.RecordWrite(ctx, deviceID, attribute, value, origin); err != nil {
			c.logger.Warn("recording write failed", "device", deviceID, "error", err)
		}
		cancel()
	}

	if c.opts.Telemetry != nil {
		if n, ok := asFloat(value); ok {
			c.opts.Telemetry.WriteAttribute(deviceID, attribute, n)
		} else if b, ok := value.(bool); ok {
			n := float64(0)
			if b {
				n = 1
			}
			c.opts.Telemetry.WriteAttribute(deviceID, attribute, n)
		}
	}
}

// RecordBattery records a battery snapshot in the telemetry sink after
// a power-source attribute committed. Best-effort.
func (c *Controller) RecordBattery(deviceID string, status device.BatteryStatus) {
	if c.opts.Telemetry == nil {
		return
	}
	c.opts.Telemetry.WriteBatteryStatus(deviceID, float64(status.Percent), int(status.Level), status.Charging)
}
