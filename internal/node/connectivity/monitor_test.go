package connectivity

import (
	"context"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/sensornode/internal/node/core"
)

type fakeSender struct{ up bool }

func (s *fakeSender) Send(context.Context, core.EventType, []byte) error          { return nil }
func (s *fakeSender) SendProto(context.Context, core.EventType, proto.Message) error { return nil }
func (s *fakeSender) IsConnected() bool                                           { return s.up }

type fakePlatform struct{ restarts int }

func (p *fakePlatform) DeviceID() string        { return "n" }
func (p *fakePlatform) FirmwareVersion() string { return "1" }
func (p *fakePlatform) Restart(context.Context, time.Duration) error {
	p.restarts++
	return nil
}

type fakeScheduler struct {
	fn       func()
	interval time.Duration
	canceled bool
}

func (s *fakeScheduler) RegisterPeriodic(d time.Duration, _ int, fn func()) core.TaskHandle {
	s.fn, s.interval = fn, d
	return 1
}
func (s *fakeScheduler) Cancel(core.TaskHandle) { s.canceled = true }
func (s *fakeScheduler) Post(fn func())         { fn() }

func setup(t *testing.T, cfg Config) (*Monitor, *fakeSender, *fakePlatform, *fakeScheduler, *clocktesting.FakePassiveClock) {
	t.Helper()
	clk := clocktesting.NewFakePassiveClock(time.Unix(0, 0))
	m := NewMonitor(cfg, clk)
	sender, platform, sched := &fakeSender{}, &fakePlatform{}, &fakeScheduler{}
	if err := m.Setup(context.Background(), core.Deps{Sender: sender, Platform: platform, Scheduler: sched}); err != nil {
		t.Fatal(err)
	}
	return m, sender, platform, sched, clk
}

func TestMonitorTracksLink(t *testing.T) {
	m, sender, _, sched, _ := setup(t, Config{})
	if sched.interval != 100*time.Millisecond {
		t.Errorf("interval = %v, want 100ms", sched.interval)
	}

	sched.fn()
	if m.Connected() {
		t.Error("connected while link down")
	}
	sender.up = true
	sched.fn()
	if !m.Connected() {
		t.Error("not connected while link up")
	}
}

func TestMonitorRestartsAfterOutage(t *testing.T) {
	_, sender, platform, sched, clk := setup(t, Config{Interval: time.Second, RestartAfter: 10 * time.Second})

	sched.fn()
	clk.SetTime(clk.Now().Add(9 * time.Second))
	sched.fn()
	if platform.restarts != 0 {
		t.Fatal("restarted too early")
	}

	// a short recovery resets the outage clock
	sender.up = true
	sched.fn()
	sender.up = false
	sched.fn()
	clk.SetTime(clk.Now().Add(9 * time.Second))
	sched.fn()
	if platform.restarts != 0 {
		t.Fatal("outage clock not reset by recovery")
	}

	clk.SetTime(clk.Now().Add(time.Second))
	sched.fn()
	sched.fn()
	if platform.restarts != 1 {
		t.Errorf("restarts = %d, want 1", platform.restarts)
	}
	if !sched.canceled {
		t.Error("check not canceled after restart")
	}
}

func TestMonitorRestartDisabled(t *testing.T) {
	_, _, platform, sched, clk := setup(t, Config{})
	sched.fn()
	clk.SetTime(clk.Now().Add(time.Hour))
	sched.fn()
	if platform.restarts != 0 {
		t.Error("restarted with RestartAfter = 0")
	}
}
