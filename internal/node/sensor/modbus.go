package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

const defaultModbusTimeout = 2 * time.Second

// registerReader is the part of modbus.Client a peripheral needs.
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// modbusSensor reads one holding register over Modbus TCP.
type modbusSensor struct {
	spec Spec

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  registerReader
}

// NewModbus connects lazily; a device that is down at startup is retried on
// every read.
func NewModbus(spec Spec) (Peripheral, error) {
	if spec.Endpoint == "" {
		return nil, errors.New("Missing property: endpoint (string)")
	}
	if spec.Timeout <= 0 {
		spec.Timeout = defaultModbusTimeout
	}
	return &modbusSensor{spec: spec}, nil
}

func (m *modbusSensor) Name() string { return m.spec.Name }
func (m *modbusSensor) Kind() string { return KindModbus }

func (m *modbusSensor) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		h := modbus.NewTCPClientHandler(m.spec.Endpoint)
		h.Timeout = m.spec.Timeout
		h.SlaveId = m.spec.UnitID
		if err := h.Connect(); err != nil {
			return 0, fmt.Errorf("connect %s: %w", m.spec.Endpoint, err)
		}
		m.handler = h
		m.client = modbus.NewClient(h)
	}

	raw, err := m.client.ReadHoldingRegisters(m.spec.Address, 1)
	if err != nil {
		m.reset()
		return 0, fmt.Errorf("read register %d: %w", m.spec.Address, err)
	}
	v, err := decodeRegister(raw, m.spec.Signed)
	if err != nil {
		return 0, err
	}
	return m.spec.scale(v), nil
}

func decodeRegister(raw []byte, signed bool) (float64, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("short register payload: %d bytes", len(raw))
	}
	v := binary.BigEndian.Uint16(raw)
	if signed {
		return float64(int16(v)), nil
	}
	return float64(v), nil
}

func (m *modbusSensor) reset() {
	if m.handler != nil {
		_ = m.handler.Close()
	}
	m.handler = nil
	m.client = nil
}

func (m *modbusSensor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}
