package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/pkg/metrics"
)

const sample = `
peripherals:
  - name: temp
    type: analog
    min: 10
    max: 20
  - name: pressure
    type: modbus
    endpoint: 127.0.0.1:1502
    unit_id: 3
    address: 40
    signed: true
    scale: 0.1
    timeout: 500ms
`

func TestParse(t *testing.T) {
	specs, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	m := specs[1]
	if m.Kind != KindModbus || m.UnitID != 3 || m.Address != 40 || !m.Signed || m.Timeout != 500*time.Millisecond {
		t.Errorf("modbus spec = %+v", m)
	}

	if _, err := Parse([]byte("peripherals:\n  - name: x\n    colour: red\n")); err == nil {
		t.Error("unknown field accepted")
	}
	if specs, err := Parse(nil); err != nil || specs != nil {
		t.Errorf("empty document: %v, %v", specs, err)
	}
}

func TestLoadFile(t *testing.T) {
	if specs, err := LoadFile(""); err != nil || specs != nil {
		t.Errorf("empty path: %v, %v", specs, err)
	}
	path := filepath.Join(t.TempDir(), "peripherals.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	specs, err := LoadFile(path)
	if err != nil || len(specs) != 2 {
		t.Fatalf("LoadFile = %v, %v", specs, err)
	}
	if _, err := LoadFile(path + ".missing"); err == nil {
		t.Error("missing file accepted")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	if got := strings.Join(r.Kinds(), ","); got != "analog,modbus" {
		t.Errorf("kinds = %s", got)
	}
	if r.Register(KindAnalog, NewAnalog) {
		t.Error("duplicate kind registered")
	}

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"missing type", Spec{Name: "a"}, "Missing property: type (string)"},
		{"missing name", Spec{Kind: KindAnalog}, "Missing property: name (string)"},
		{"unknown type", Spec{Name: "a", Kind: "lidar"}, "Unknown peripheral type: lidar"},
		{"modbus without endpoint", Spec{Name: "a", Kind: KindModbus}, "Missing property: endpoint (string)"},
		{"inverted range", Spec{Name: "a", Kind: KindAnalog, Min: 5, Max: 1}, `analog "a": max 1 below min 5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.spec)
			if err == nil || err.Error() != tt.want {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := r.CreateAll([]Spec{{Name: "a", Kind: KindAnalog}, {Name: "a", Kind: KindAnalog}}); err == nil {
		t.Error("duplicate names accepted")
	}
}

func TestAnalogRange(t *testing.T) {
	p, err := NewAnalog(Spec{Name: "t", Kind: KindAnalog, Min: 10, Max: 20, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	for range 100 {
		v, err := p.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if v < 20 || v >= 40 {
			t.Fatalf("reading %v outside [20, 40)", v)
		}
	}
}

func TestDecodeRegister(t *testing.T) {
	if v, _ := decodeRegister([]byte{0xff, 0xfe}, true); v != -2 {
		t.Errorf("signed = %v, want -2", v)
	}
	if v, _ := decodeRegister([]byte{0xff, 0xfe}, false); v != 65534 {
		t.Errorf("unsigned = %v, want 65534", v)
	}
	if _, err := decodeRegister([]byte{1}, false); err == nil {
		t.Error("short payload accepted")
	}
}

type fixed struct {
	name string
	v    float64
	err  error
}

func (f *fixed) Name() string                           { return f.name }
func (f *fixed) Kind() string                           { return "fixed" }
func (f *fixed) Read(context.Context) (float64, error) { return f.v, f.err }
func (f *fixed) Close() error                           { return nil }

type recorder struct{ msgs []*structpb.Struct }

func (r *recorder) Send(context.Context, core.EventType, []byte) error { return nil }
func (r *recorder) SendProto(_ context.Context, ev core.EventType, msg proto.Message) error {
	if ev != core.EventTelemetry {
		return errors.New("unexpected event")
	}
	r.msgs = append(r.msgs, msg.(*structpb.Struct))
	return nil
}
func (r *recorder) IsConnected() bool { return true }

func TestPollOnce(t *testing.T) {
	rec := &recorder{}
	p := NewPoller(time.Second, []Peripheral{
		&fixed{name: "poll-ok", v: 21.5},
		&fixed{name: "poll-bad", err: errors.New("bus error")},
	})
	p.sender = rec

	p.PollOnce(context.Background())

	if len(rec.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(rec.msgs))
	}
	got := rec.msgs[0].AsMap()
	if got["type"] != "tel" || got["peripheral"] != "poll-ok" || got["value"] != 21.5 {
		t.Errorf("telemetry = %v", got)
	}
	if v := testutil.ToFloat64(metrics.TelemetryPublished.WithLabelValues("poll-bad", "failed")); v != 1 {
		t.Errorf("failed counter = %v, want 1", v)
	}
	if got := strings.Join(p.Names(), ","); got != "poll-ok,poll-bad" {
		t.Errorf("names = %s", got)
	}
}

func TestScheduleDropsOverlappingRounds(t *testing.T) {
	p := NewPoller(time.Second, nil)
	p.schedule()
	p.schedule()
	if len(p.rounds) != 1 {
		t.Errorf("queued rounds = %d, want 1", len(p.rounds))
	}
}
