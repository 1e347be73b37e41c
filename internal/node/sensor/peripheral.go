// Package sensor polls the peripherals attached to the node and publishes
// their readings as telemetry.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	KindAnalog = "analog"
	KindModbus = "modbus"
)

var ErrMissingKind = errors.New("Missing property: type (string)")

// Peripheral is one attached sensor.
type Peripheral interface {
	Name() string
	Kind() string
	// Read takes one reading. It may block on I/O.
	Read(ctx context.Context) (float64, error)
	Close() error
}

// Spec describes a peripheral as written in the peripherals file.
type Spec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"type"`

	// analog
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// modbus
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Signed   bool          `yaml:"signed"`
	Timeout  time.Duration `yaml:"timeout"`

	// Scale multiplies the raw reading. Zero means 1.
	Scale float64 `yaml:"scale"`
}

func (s Spec) scale(v float64) float64 {
	if s.Scale == 0 {
		return v
	}
	return v * s.Scale
}

// Factory builds a peripheral from its spec.
type Factory func(spec Spec) (Peripheral, error)

// Registry maps peripheral kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows every kind built into the node.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindAnalog, NewAnalog)
	r.Register(KindModbus, NewModbus)
	return r
}

// Register adds a factory. It returns false if the kind is already taken.
func (r *Registry) Register(kind string, f Factory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return false
	}
	r.factories[kind] = f
	return true
}

func (r *Registry) Create(spec Spec) (Peripheral, error) {
	if spec.Kind == "" {
		return nil, ErrMissingKind
	}
	if spec.Name == "" {
		return nil, errors.New("Missing property: name (string)")
	}
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("Unknown peripheral type: %s", spec.Kind)
	}
	return f(spec)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// CreateAll builds every spec. Names must be unique. On error the
// peripherals created so far are closed.
func (r *Registry) CreateAll(specs []Spec) ([]Peripheral, error) {
	seen := make(map[string]struct{}, len(specs))
	out := make([]Peripheral, 0, len(specs))
	for i, spec := range specs {
		if _, dup := seen[spec.Name]; dup {
			closeAll(out)
			return nil, fmt.Errorf("peripheral %d: duplicate name %q", i, spec.Name)
		}
		p, err := r.Create(spec)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("peripheral %d: %w", i, err)
		}
		seen[spec.Name] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func closeAll(ps []Peripheral) {
	for _, p := range ps {
		_ = p.Close()
	}
}
