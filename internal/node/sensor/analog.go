package sensor

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// analog simulates an ADC input returning values in [min, max).
type analog struct {
	spec   Spec
	sample func() float64
}

func NewAnalog(spec Spec) (Peripheral, error) {
	if spec.Max < spec.Min {
		return nil, fmt.Errorf("analog %q: max %v below min %v", spec.Name, spec.Max, spec.Min)
	}
	if spec.Max == spec.Min && spec.Max == 0 {
		spec.Max = 1
	}
	return &analog{spec: spec, sample: rand.Float64}, nil
}

func (a *analog) Name() string { return a.spec.Name }
func (a *analog) Kind() string { return KindAnalog }

func (a *analog) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v := a.spec.Min + a.sample()*(a.spec.Max-a.spec.Min)
	return a.spec.scale(v), nil
}

func (a *analog) Close() error { return nil }
