package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/autopeer-io/sensornode/internal/node/core"
)

type sent struct {
	event   core.EventType
	payload []byte
}

type fakeLink struct {
	mu      sync.Mutex
	routes  map[core.EventType]core.HandlerFunc
	sent    []sent
	started bool
	stopped bool
	up      chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{routes: make(map[core.EventType]core.HandlerFunc), up: make(chan struct{})}
}

func (l *fakeLink) Send(_ context.Context, ev core.EventType, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, sent{ev, payload})
	return nil
}

func (l *fakeLink) SendProto(ctx context.Context, ev core.EventType, msg proto.Message) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return l.Send(ctx, ev, b)
}

func (l *fakeLink) IsConnected() bool    { return true }
func (l *fakeLink) Server() core.Server { return nil }
func (l *fakeLink) Register(ev core.EventType, h core.HandlerFunc) error {
	l.routes[ev] = h
	return nil
}
func (l *fakeLink) Start(context.Context) error { l.started = true; return nil }
func (l *fakeLink) Stop()                       { l.stopped = true }
func (l *fakeLink) AwaitConnection(ctx context.Context) error {
	select {
	case <-l.up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLink) messages() []sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sent(nil), l.sent...)
}

type fakePlatform struct{}

func (fakePlatform) DeviceID() string                             { return "node-1" }
func (fakePlatform) FirmwareVersion() string                      { return "1.2.3" }
func (fakePlatform) Restart(context.Context, time.Duration) error { return nil }

// inlineScheduler runs posted work immediately and blocks in Run.
type inlineScheduler struct{ posted int }

func (s *inlineScheduler) RegisterPeriodic(time.Duration, int, func()) core.TaskHandle { return 1 }
func (s *inlineScheduler) Cancel(core.TaskHandle)                                    {}
func (s *inlineScheduler) Post(fn func())                                            { s.posted++; fn() }
func (s *inlineScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type idleServer struct{}

func (idleServer) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type echoModule struct {
	deps  core.Deps
	calls int
}

func (m *echoModule) Name() string { return "Echo" }
func (m *echoModule) Setup(_ context.Context, deps core.Deps) error {
	m.deps = deps
	return nil
}
func (m *echoModule) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventUpdateCommand: func(context.Context, []byte) error {
			m.calls++
			return errors.New("ignored")
		},
	}
}

func TestAgentRun(t *testing.T) {
	link := newFakeLink()
	sched := &inlineScheduler{}
	mod := &echoModule{}
	agent := NewAgent(fakePlatform{}, link, sched, idleServer{}, []string{"temp", "pressure"}, mod)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	close(link.up)
	deadline := time.After(5 * time.Second)
	for len(link.messages()) < 2 {
		select {
		case <-deadline:
			t.Fatal("registration not sent")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !link.started || !link.stopped {
		t.Errorf("started=%v stopped=%v", link.started, link.stopped)
	}

	msgs := link.messages()
	if msgs[0].event != core.EventRegister {
		t.Fatalf("first message %s, want register", msgs[0].event)
	}
	var reg map[string]any
	if err := json.Unmarshal(msgs[0].payload, &reg); err != nil {
		t.Fatal(err)
	}
	if reg["type"] != "reg" || reg["firmwareVersion"] != "1.2.3" {
		t.Errorf("registration = %v", reg)
	}
	if ps, _ := reg["peripherals"].([]any); len(ps) != 2 || ps[0] != "temp" {
		t.Errorf("peripherals = %v", reg["peripherals"])
	}
	var online map[string]any
	if err := json.Unmarshal(msgs[1].payload, &online); err != nil {
		t.Fatal(err)
	}
	if msgs[1].event != core.EventOnline || online["online"] != true || len(online) != 1 {
		t.Errorf("online = %s %v", msgs[1].event, online)
	}

	// routes go through the scheduler and swallow handler errors
	h := link.routes[core.EventUpdateCommand]
	if h == nil {
		t.Fatal("command route not registered")
	}
	if err := h(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if sched.posted != 1 || mod.calls != 1 {
		t.Errorf("posted=%d calls=%d", sched.posted, mod.calls)
	}
	if mod.deps.Platform == nil || mod.deps.Scheduler == nil || mod.deps.Sender == nil {
		t.Error("module deps incomplete")
	}
}

func TestOnlineStatus(t *testing.T) {
	b, err := onlineStatus(false, "UnexpectedDisconnect")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["online"] != false || got["reason"] != "UnexpectedDisconnect" {
		t.Errorf("status = %v", got)
	}
}
