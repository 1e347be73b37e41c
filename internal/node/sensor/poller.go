package sensor

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/pkg/metrics"
	"github.com/autopeer-io/sensornode/pkg/log"
)

const telemetryType = "tel"

// Poller reads every peripheral once per interval and publishes the readings.
// The scheduler only hands out rounds; reads run on a worker goroutine so a
// slow device never stalls the scheduler.
type Poller struct {
	interval    time.Duration
	peripherals []Peripheral

	sender core.Sender
	rounds chan struct{}
}

var _ core.Module = (*Poller)(nil)

func NewPoller(interval time.Duration, peripherals []Peripheral) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		interval:    interval,
		peripherals: peripherals,
		rounds:      make(chan struct{}, 1),
	}
}

func (p *Poller) Name() string {
	return "Sensor"
}

func (p *Poller) Setup(ctx context.Context, deps core.Deps) error {
	p.sender = deps.Sender
	if len(p.peripherals) == 0 {
		log.Info("No peripherals configured, sensor polling disabled")
		return nil
	}

	go p.worker(ctx)
	deps.Scheduler.RegisterPeriodic(p.interval, core.Forever, p.schedule)
	log.Info("Sensor polling started", "peripherals", len(p.peripherals), "interval", p.interval)
	return nil
}

func (p *Poller) Routes() map[core.EventType]core.HandlerFunc {
	return nil
}

// Names lists the configured peripherals in file order.
func (p *Poller) Names() []string {
	names := make([]string, 0, len(p.peripherals))
	for _, per := range p.peripherals {
		names = append(names, per.Name())
	}
	return names
}

// schedule runs on the scheduler. A round still in flight swallows the new one.
func (p *Poller) schedule() {
	select {
	case p.rounds <- struct{}{}:
	default:
		log.Debug("Sensor round still running, skipping")
	}
}

func (p *Poller) worker(ctx context.Context) {
	defer closeAll(p.peripherals)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.rounds:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce reads and publishes every peripheral. A failing peripheral does
// not stop the round.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, per := range p.peripherals {
		v, err := per.Read(ctx)
		if err != nil {
			log.Warn("Sensor read failed", "peripheral", per.Name(), "kind", per.Kind(), "err", err)
			metrics.TelemetryPublished.WithLabelValues(per.Name(), "failed").Inc()
			continue
		}
		if err := p.publish(ctx, per.Name(), v); err != nil {
			log.Error(err, "Failed to publish telemetry", "peripheral", per.Name())
			metrics.TelemetryPublished.WithLabelValues(per.Name(), "failed").Inc()
			continue
		}
		metrics.TelemetryPublished.WithLabelValues(per.Name(), "success").Inc()
	}
}

func (p *Poller) publish(ctx context.Context, name string, value float64) error {
	msg, err := structpb.NewStruct(map[string]any{
		"type":       telemetryType,
		"peripheral": name,
		"value":      value,
	})
	if err != nil {
		return err
	}
	return p.sender.SendProto(ctx, core.EventTelemetry, msg)
}
