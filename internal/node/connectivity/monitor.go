// Package connectivity watches the server link from the scheduler.
package connectivity

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/pkg/metrics"
	"github.com/autopeer-io/sensornode/pkg/log"
)

// Link reports whether the server link is up.
type Link interface {
	IsConnected() bool
}

type Config struct {
	Interval time.Duration
	// RestartAfter restarts the node once the link has been down that long. Zero disables it.
	RestartAfter time.Duration
}

// Monitor checks the link every Interval and logs transitions.
type Monitor struct {
	cfg   Config
	clock clock.PassiveClock

	ctx      context.Context
	link     Link
	platform core.Platform
	sched    core.Scheduler
	task     core.TaskHandle

	known      bool
	connected  bool
	downSince  time.Time
	restarting bool
}

var _ core.Module = (*Monitor)(nil)

func NewMonitor(cfg Config, clk clock.PassiveClock) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Monitor{cfg: cfg, clock: clk}
}

func (m *Monitor) Name() string {
	return "Connectivity"
}

func (m *Monitor) Setup(ctx context.Context, deps core.Deps) error {
	m.ctx = ctx
	m.link = deps.Sender
	m.platform = deps.Platform
	m.sched = deps.Scheduler
	m.task = m.sched.RegisterPeriodic(m.cfg.Interval, core.Forever, m.check)
	return nil
}

func (m *Monitor) Routes() map[core.EventType]core.HandlerFunc {
	return nil
}

// Connected reports the link state seen by the last check.
func (m *Monitor) Connected() bool {
	return m.connected
}

func (m *Monitor) check() {
	up := m.link.IsConnected()
	now := m.clock.Now()

	if !m.known || up != m.connected {
		if up {
			log.Info("Server link is up")
			metrics.LinkStatus.Set(1)
		} else {
			log.Warn("Server link is down")
			metrics.LinkStatus.Set(0)
		}
		m.known = true
		m.connected = up
		m.downSince = now
	}

	if up || m.cfg.RestartAfter <= 0 || m.restarting {
		return
	}

	if down := now.Sub(m.downSince); down >= m.cfg.RestartAfter {
		m.restarting = true
		m.sched.Cancel(m.task)
		log.Warn("Server link down for too long, restarting", "down", down)
		if err := m.platform.Restart(m.ctx, 0); err != nil {
			log.Error(err, "Restart failed")
		}
	}
}
