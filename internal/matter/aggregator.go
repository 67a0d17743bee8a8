package matter

import (
	"fmt"
	"sync"
)

// Aggregator groups bridged device endpoints under one node.
//
// Endpoint ids must be unique within one aggregator; Attach enforces
// this and rejects duplicates without side effects.
//
// Thread Safety: all methods are safe for concurrent use.
type Aggregator struct {
	name string
	env  *Environment

	mu        sync.Mutex
	closed    bool
	endpoints map[string]*Endpoint
}

// Attach adds an endpoint to the aggregator.
//
// Returns ErrDuplicateEndpoint if an endpoint with the same id is
// already attached. On success the endpoint starts delivering change
// events to its subscribers.
func (a *Aggregator) Attach(ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("%w: nil endpoint", ErrInvalidEndpoint)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrStopped
	}
	if _, exists := a.endpoints[ep.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEndpoint, ep.ID())
	}

	a.endpoints[ep.ID()] = ep
	a.env.logger.Debug("endpoint attached", "aggregator", a.name, "endpoint", ep.ID())
	return nil
}

// Detach removes an endpoint by id and closes it. Detaching an unknown
// id is a no-op; Detach never fails.
func (a *Aggregator) Detach(id string) {
	a.mu.Lock()
	ep, ok := a.endpoints[id]
	if ok {
		delete(a.endpoints, id)
	}
	a.mu.Unlock()

	if ok {
		ep.close()
		a.env.logger.Debug("endpoint detached", "aggregator", a.name, "endpoint", id)
	}
}

// Endpoint returns the attached endpoint with the given id, or nil.
func (a *Aggregator) Endpoint(id string) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoints[id]
}

// EndpointIDs returns the ids of all attached endpoints.
func (a *Aggregator) EndpointIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.endpoints))
	for id := range a.endpoints {
		ids = append(ids, id)
	}
	return ids
}

// close detaches and closes every endpoint. Called by Environment.Stop.
func (a *Aggregator) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	endpoints := a.endpoints
	a.endpoints = make(map[string]*Endpoint)
	a.mu.Unlock()

	for _, ep := range endpoints {
		ep.close()
	}
}
