package matter

import (
	"context"
	"fmt"
	"sync"
)

// subscriberBuffer bounds the per-subscriber event queue. Changes are
// dropped (with a warning) rather than blocking the writer when a
// subscriber falls this far behind.
const subscriberBuffer = 256

// Cluster declares a named group of attributes on an endpoint.
type Cluster struct {
	Name       string
	Attributes []string
}

// Change is one committed attribute write, delivered to subscribers in
// write order.
type Change struct {
	// Endpoint is the id of the endpoint that changed.
	Endpoint string

	// Attribute is the attribute name.
	Attribute string

	// Value is the committed value.
	Value any

	// Token carries the writer's correlation token, empty for writes
	// originating inside the fabric (controller commands).
	Token string
}

// Endpoint is one bridged device on the fabric.
//
// Writes update the attribute map, persist through the store when one
// is configured, and fan out to subscribers. Each subscriber observes
// changes in write order.
//
// Thread Safety: all methods are safe for concurrent use.
type Endpoint struct {
	id         string
	deviceType string
	clusters   []Cluster
	known      map[string]struct{}
	store      Store
	logger     Logger

	mu          sync.Mutex
	closed      bool
	attrs       map[string]any
	nextSubID   int
	subscribers map[int]chan Change
}

// NewEndpoint constructs an endpoint for one bridged device.
//
// The clusters declare which attributes the endpoint accepts; writes to
// undeclared attributes fail. Initial attribute values seed the map,
// then any persisted values from a previous run override them so
// controllers see consistent state across restarts.
//
// The endpoint delivers nothing until attached to an aggregator.
func (e *Environment) NewEndpoint(ctx context.Context, id, deviceType string, clusters []Cluster, initial map[string]any) (*Endpoint, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidEndpoint)
	}
	if deviceType == "" {
		return nil, fmt.Errorf("%w: empty device type", ErrInvalidEndpoint)
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("%w: no clusters", ErrInvalidEndpoint)
	}

	known := make(map[string]struct{})
	for _, c := range clusters {
		for _, attr := range c.Attributes {
			known[attr] = struct{}{}
		}
	}

	attrs := make(map[string]any, len(initial))
	for name, value := range initial {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: initial attribute %q not declared", ErrInvalidEndpoint, name)
		}
		attrs[name] = value
	}

	// Restore persisted state over the seed values
	if e.store != nil {
		persisted, err := e.store.LoadAttributes(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("matter: loading endpoint state: %w", err)
		}
		for name, value := range persisted {
			if _, ok := known[name]; ok {
				attrs[name] = value
			}
		}
	}

	return &Endpoint{
		id:          id,
		deviceType:  deviceType,
		clusters:    clusters,
		known:       known,
		store:       e.store,
		logger:      e.logger,
		attrs:       attrs,
		subscribers: make(map[int]chan Change),
	}, nil
}

// ID returns the endpoint id.
func (ep *Endpoint) ID() string {
	return ep.id
}

// DeviceType returns the device type this endpoint was built for.
func (ep *Endpoint) DeviceType() string {
	return ep.deviceType
}

// Write commits an attribute value and notifies subscribers.
//
// Returns ErrUnknownAttribute for attributes outside the declared
// clusters and ErrEndpointClosed after detach.
func (ep *Endpoint) Write(ctx context.Context, name string, value any) error {
	return ep.WriteTagged(ctx, name, value, "")
}

// WriteTagged commits an attribute value carrying a correlation token.
//
// The token is delivered unchanged to subscribers, letting the writer
// recognise its own change event when it comes back around.
func (ep *Endpoint) WriteTagged(ctx context.Context, name string, value any, token string) error {
	if _, ok := ep.known[name]; !ok {
		return fmt.Errorf("%w: %q on endpoint %q", ErrUnknownAttribute, name, ep.id)
	}

	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return ErrEndpointClosed
	}
	ep.attrs[name] = value

	change := Change{Endpoint: ep.id, Attribute: name, Value: value, Token: token}
	for subID, ch := range ep.subscribers {
		select {
		case ch <- change:
		default:
			ep.logger.Warn("subscriber queue full, dropping change",
				"endpoint", ep.id,
				"attribute", name,
				"subscriber", subID,
			)
		}
	}
	ep.mu.Unlock()

	if ep.store != nil {
		if err := ep.store.SaveAttribute(ctx, ep.id, name, value); err != nil {
			// The in-memory state and subscribers already have the value;
			// persistence failure only affects restart recovery.
			ep.logger.Error("persisting attribute failed",
				"endpoint", ep.id,
				"attribute", name,
				"error", err,
			)
		}
	}

	return nil
}

// Attribute returns the current value of one attribute.
func (ep *Endpoint) Attribute(name string) (any, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	value, ok := ep.attrs[name]
	return value, ok
}

// Attributes returns a copy of the current attribute map.
func (ep *Endpoint) Attributes() map[string]any {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	cpy := make(map[string]any, len(ep.attrs))
	for name, value := range ep.attrs {
		cpy[name] = value
	}
	return cpy
}

// Subscribe registers fn to receive every committed change in write
// order. fn runs on a dedicated goroutine per subscriber; slow
// subscribers do not block writers or each other.
//
// The returned cancel function stops delivery. It is safe to call more
// than once.
func (ep *Endpoint) Subscribe(fn func(Change)) (cancel func()) {
	ch := make(chan Change, subscriberBuffer)

	ep.mu.Lock()
	subID := ep.nextSubID
	ep.nextSubID++
	if ep.closed {
		ep.mu.Unlock()
		close(ch)
		return func() {}
	}
	ep.subscribers[subID] = ch
	ep.mu.Unlock()

	go func() {
		for change := range ch {
			fn(change)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ep.mu.Lock()
			if _, ok := ep.subscribers[subID]; ok {
				delete(ep.subscribers, subID)
				close(ch)
			}
			ep.mu.Unlock()
		})
	}
}

// close marks the endpoint closed and stops all subscribers.
// Called by Aggregator.Detach and aggregator shutdown.
func (ep *Endpoint) close() {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return
	}
	ep.closed = true
	for subID, ch := range ep.subscribers {
		delete(ep.subscribers, subID)
		close(ch)
	}
	ep.mu.Unlock()
}
