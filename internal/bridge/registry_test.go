package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

func newTestRegistry(t *testing.T) *Registry {
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

	return NewRegistry(env, agg, nil)
}

func TestRegistry_Register(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	ep, err := registry.Register(ctx, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if ep.ID() != "d1" {
		t.Errorf("endpoint id = %q, want d1", ep.ID())
	}

	if _, ok := registry.Descriptor("d1"); !ok {
		t.Error("Descriptor(d1) not found after registration")
	}
}

func TestRegistry_RegisterIncludesBatteryClusters(t *testing.T) {
	registry := newTestRegistry(t)

	ep, err := registry.Register(context.Background(), device.Descriptor{
		ID: "d2", Name: "Sensor", Type: device.TypeContactSensor,
		Bat: true, BatType: device.BatTypeReplaceable,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if value, ok := ep.Attribute(attrBatPercent); !ok || value != float64(100) {
		t.Errorf("batPercent = %v, %v; want seeded 100", value, ok)
	}
	if value, ok := ep.Attribute("contact"); !ok || value != true {
		t.Errorf("contact = %v, %v; want seeded true", value, ok)
	}
}

func TestRegistry_DuplicateID(t *testing.T) {
	// Two registrations with the same id: exactly one active endpoint
	// and a DuplicateId failure for the second
	registry := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.Register(ctx, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})
	if err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, err = registry.Register(ctx, device.Descriptor{
		ID: "d1", Name: "Other", Type: device.TypeOnOffSocket,
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second Register() error = %v, want ErrDuplicateID", err)
	}
	if !errors.Is(err, ErrRegistrationFailed) {
		t.Errorf("second Register() error = %v, should wrap ErrRegistrationFailed", err)
	}

	// The first endpoint is unaffected
	if err := first.Write(ctx, "onOff", true); err != nil {
		t.Errorf("Write() on first endpoint error = %v", err)
	}
	if got := len(registry.IDs()); got != 1 {
		t.Errorf("registry holds %d devices, want 1", got)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		desc device.Descriptor
		want error
	}{
		{
			name: "unknown type",
			desc: device.Descriptor{ID: "d1", Name: "X", Type: "doorlock"},
			want: ErrRegistrationFailed,
		},
		{
			name: "empty id",
			desc: device.Descriptor{Name: "X", Type: device.TypeOnOffLight},
			want: ErrRegistrationFailed,
		},
		{
			name: "battery without type",
			desc: device.Descriptor{ID: "d1", Name: "X", Type: device.TypeOnOffLight, Bat: true},
			want: ErrRegistrationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Register(ctx, tt.desc)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Failed registrations leave nothing behind
	if got := len(registry.IDs()); got != 0 {
		t.Errorf("registry holds %d devices after failures, want 0", got)
	}
}

func TestRegistry_DeregisterSafety(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	ep, err := registry.Register(ctx, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Unknown id, double deregistration: all no-ops
	registry.Deregister(ctx, "ghost")
	registry.Deregister(ctx, "d1")
	registry.Deregister(ctx, "d1")

	if err := ep.Write(ctx, "onOff", true); !errors.Is(err, matter.ErrEndpointClosed) {
		t.Errorf("Write() after deregister error = %v, want ErrEndpointClosed", err)
	}

	// The id is free again
	if _, err := registry.Register(ctx, device.Descriptor{
		ID: "d1", Name: "Light", Type: device.TypeOnOffLight,
	}); err != nil {
		t.Errorf("Register() after deregister error = %v", err)
	}
}

func TestRegistry_ConcurrentDeregisterRegister(t *testing.T) {
	// Racing Deregister/Register cycles on one id: losing a Register
	// race surfaces ErrDuplicateID, never a construction failure from
	// the aggregator still holding a half-detached endpoint.
	registry := newTestRegistry(t)
	ctx := context.Background()

	desc := device.Descriptor{ID: "d1", Name: "Light", Type: device.TypeOnOffLight}
	if _, err := registry.Register(ctx, desc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	errs := make(chan error, 200)
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				registry.Deregister(ctx, "d1")
				if _, err := registry.Register(ctx, desc); err != nil && !errors.Is(err, ErrDuplicateID) {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Register() error = %v, want nil or ErrDuplicateID", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		if _, err := registry.Register(ctx, device.Descriptor{
			ID: id, Name: "Device " + id, Type: device.TypeOnOffLight,
		}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	registry.Close(ctx)

	if got := len(registry.IDs()); got != 0 {
		t.Errorf("registry holds %d devices after Close, want 0", got)
	}
}
