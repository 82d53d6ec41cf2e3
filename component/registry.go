package component

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDriverExists rejects duplicate driver registration.
	ErrDriverExists = errors.New("driver already registered")
	// ErrNoDriver is returned when no driver matches the identifier.
	ErrNoDriver = errors.New("no such driver")
)

// Driver constructs component instances of one type. Driver lifetime is
// independent of the instances it creates.
type Driver struct {
	UUID uuid.UUID
	Name string
	Type Type
	New  func(cfg Config, spec interface{}) (*Device, error)
}

// Registry is an ordered set of drivers keyed by UUID. Mutations and
// lookups are serialised by one mutex; each scans the driver list while
// holding it.
type Registry struct {
	mu      sync.Mutex
	drivers []*Driver
}

// NewRegistry returns an empty registry. The registry is injected into
// the IPC handler rather than held as a process global, so tests can
// provide their own driver sets.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a driver. Duplicate UUIDs are rejected.
func (r *Registry) Register(drv *Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.UUID == drv.UUID {
			return fmt.Errorf("%w: %s", ErrDriverExists, drv.UUID)
		}
	}
	r.drivers = append(r.drivers, drv)
	return nil
}

// Unregister removes a driver. Instances it created are unaffected.
func (r *Registry) Unregister(drv *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.drivers {
		if d.UUID == drv.UUID {
			r.drivers = append(r.drivers[:i], r.drivers[i+1:]...)
			return
		}
	}
}

// Lookup finds a driver by UUID.
func (r *Registry) Lookup(id uuid.UUID) (*Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.UUID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDriver, id)
}

// LookupName finds a driver by its topology class name.
func (r *Registry) LookupName(name string) (*Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDriver, name)
}

// New dispatches construction to the driver with the given UUID.
func (r *Registry) New(id uuid.UUID, cfg Config, spec interface{}) (*Device, error) {
	drv, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	return drv.New(cfg, spec)
}
