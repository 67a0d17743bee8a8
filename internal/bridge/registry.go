package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// registration pairs a descriptor with its live endpoint handle.
type registration struct {
	desc     device.Descriptor
	endpoint *matter.Endpoint
}

// Registry tracks all registered devices and binds their endpoints
// under the shared aggregator.
//
// Register holds one mutex across endpoint construction and aggregator
// attachment, so the pair is atomic from the registry's view: either
// both succeed or neither is observable, and the aggregator can never
// hold two endpoints with the same id.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	env    *matter.Environment
	agg    *matter.Aggregator
	logger Logger

	mu      sync.Mutex
	devices map[string]*registration
}

// NewRegistry creates a registry binding devices to the aggregator.
func NewRegistry(env *matter.Environment, agg *matter.Aggregator, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		env:     env,
		agg:     agg,
		logger:  logger,
		devices: make(map[string]*registration),
	}
}

// Register validates the descriptor, builds the protocol endpoint for
// its device type and attaches it to the aggregator.
//
// Failures leave the device unregistered: ErrDuplicateID when the id
// already exists, ErrConstructionFailed when the endpoint cannot be
// built; both wrap ErrRegistrationFailed.
func (r *Registry) Register(ctx context.Context, desc device.Descriptor) (*matter.Endpoint, error) {
	if err := device.ValidateDescriptor(desc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	devType, err := DeviceTypeFor(desc.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[desc.ID]; exists {
		return nil, fmt.Errorf("%w: %w: %q", ErrRegistrationFailed, ErrDuplicateID, desc.ID)
	}

	clusters := devType.Clusters()
	initial := devType.InitialAttributes()

	batCfg := BatteryConfigFor(desc)
	clusters = append(clusters, batCfg.Clusters()...)
	for name, value := range batCfg.InitialAttributes() {
		initial[name] = value
	}

	ep, err := r.env.NewEndpoint(ctx, desc.ID, devType.Name(), clusters, initial)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrRegistrationFailed, ErrConstructionFailed, err)
	}

	if err := r.agg.Attach(ep); err != nil {
		// Nothing to roll back: the endpoint only becomes observable
		// through the aggregator.
		return nil, fmt.Errorf("%w: %w: %w", ErrRegistrationFailed, ErrConstructionFailed, err)
	}

	r.devices[desc.ID] = &registration{desc: desc, endpoint: ep}
	r.logger.Info("device registered", "device", desc.ID, "type", desc.Type)
	return ep, nil
}

// Deregister detaches and releases a device's endpoint. Unknown ids are
// a no-op, so it is safe to call twice or during shutdown races.
//
// The lock is held across Detach so a concurrent Register of the same
// id cannot observe the map entry gone while the aggregator still
// holds the endpoint.
func (r *Registry) Deregister(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[id]; !exists {
		return
	}
	delete(r.devices, id)

	r.agg.Detach(id)
	r.logger.Info("device deregistered", "device", id)
}

// Descriptor returns the descriptor of a registered device.
func (r *Registry) Descriptor(id string) (device.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.devices[id]
	if !ok {
		return device.Descriptor{}, false
	}
	return reg.desc, true
}

// IDs returns the ids of all registered devices.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// Close deregisters every device.
func (r *Registry) Close(ctx context.Context) {
	for _, id := range r.IDs() {
		r.Deregister(ctx, id)
	}
}
