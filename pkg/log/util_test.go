package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", nil, nil},
		{"pairs", []any{"requestId", "r1", "written", uint64(4096), "restart", true}, []string{"requestId", "written", "restart"}},
		{"duration", []any{"grace", 1500 * time.Millisecond}, []string{"grace"}},
		{"bare error", []any{boom}, []string{"error"}},
		{"field passthrough", []any{zap.String("x", "y"), "n", 1}, []string{"x", "n"}},
		{"dangling value", []any{"url", "http://h/f", "size"}, []string{"url", "arg#2"}},
		{"non-string key", []any{7, "value"}, []string{"invalid_key_0"}},
		{"named error", []any{"cause", boom}, []string{"cause"}},
		{"nil value", []any{"a", nil}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d", len(fields), len(tt.wantKeys))
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestFieldTypes(t *testing.T) {
	if f := field("n", uint64(7)); f.Type != zapcore.Uint64Type {
		t.Errorf("uint64 encoded as %v", f.Type)
	}
	if f := field("d", time.Second); f.Type != zapcore.DurationType {
		t.Errorf("duration encoded as %v", f.Type)
	}
	if f := field("p", []string{"temp"}); f.Type != zapcore.ArrayMarshalerType {
		t.Errorf("[]string encoded as %v", f.Type)
	}
}

func TestSetLevel(t *testing.T) {
	opts := NewOptions()
	opts.OutputPaths = []string{"stderr"}
	l := NewLogger(opts)

	if err := l.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) = %v", err)
	}
	if err := l.SetLevel("loud"); err == nil {
		t.Fatal("SetLevel(loud) should fail")
	}

	// Derived loggers share the level of their parent.
	named := l.WithName("ota").(*zapLogger)
	if err := l.SetLevel("error"); err != nil {
		t.Fatalf("SetLevel(error) = %v", err)
	}
	if named.z.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled on derived logger after SetLevel(error)")
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	if errs := opts.Validate(); len(errs) != 0 {
		t.Fatalf("default options invalid: %v", errs)
	}

	opts.Level = "verbose"
	opts.Format = "xml"
	if errs := opts.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestLogrSharesCore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &zapLogger{z: zap.New(core), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}

	l.Logr().WithName("klog").Info("from logr", "k", "v")
	l.Error(errors.New("boom"), "from logger", "state", "idle")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].LoggerName != "klog" || entries[0].ContextMap()["k"] != "v" {
		t.Errorf("logr entry = %+v", entries[0])
	}
	if entries[1].ContextMap()["error"] != "boom" {
		t.Errorf("error field = %v", entries[1].ContextMap()["error"])
	}
}

func TestParseLevelFallback(t *testing.T) {
	if got := parseLevel("warn", zapcore.InfoLevel); got != zapcore.WarnLevel {
		t.Errorf("parseLevel(warn) = %v", got)
	}
	if got := parseLevel("chatty", zapcore.InfoLevel); got != zapcore.InfoLevel {
		t.Errorf("parseLevel(chatty) = %v, want fallback", got)
	}
}
