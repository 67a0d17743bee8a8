// Package matter is the bridge's in-process fabric collaborator.
//
// It models the protocol side the bridge synchronizes against: an
// Environment owning node identity and lifecycle, an Aggregator
// grouping bridged device endpoints, and Endpoints whose attribute
// writes fan out ordered change events to subscribers. Commissioning
// parameters (setup passcode, discriminator, manual pairing code) are
// generated here as well.
//
// The package is deliberately narrow: it persists endpoint state and
// fabric records through the Store interface, enforces unique endpoint
// ids per aggregator, and delivers changes in write order per
// subscriber. Certification-level protocol behaviour is out of scope.
//
// # Usage
//
//	env := matter.NewEnvironment(matter.EnvironmentConfig{
//	    Name:     "bridge",
//	    VendorID: 0xFFF1,
//	    Store:    matter.NewSQLiteStore(db),
//	})
//	if err := env.Start(ctx); err != nil { ... }
//	agg, _ := env.NewAggregator("bridged devices")
//
//	ep, _ := env.NewEndpoint(ctx, "d1", "onofflight", clusters, initial)
//	cancel := ep.Subscribe(func(c matter.Change) { ... })
//	_ = agg.Attach(ep)
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Subscribers run on
// their own goroutines and never block writers.
package matter
