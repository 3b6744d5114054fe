package ble

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/velopad/velopad/internal/safego"
)

// MockPeripheral is a scripted stand-in for a real power sensor, used by
// tests and by simulated runs without Bluetooth hardware.
type MockPeripheral struct {
	name    string
	address string

	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	connected    bool
	notify       func(buf []byte)
}

func NewMockPeripheral(name, address string) *MockPeripheral {
	return &MockPeripheral{name: name, address: address}
}

// FailConnect makes the next Connect calls fail with err.
func (p *MockPeripheral) FailConnect(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// FailSubscribe makes the next Subscribe calls fail with err.
func (p *MockPeripheral) FailSubscribe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribeErr = err
}

func (p *MockPeripheral) Name() string    { return p.name }
func (p *MockPeripheral) Address() string { return p.address }

func (p *MockPeripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return p.connectErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.connected = true
	return nil
}

func (p *MockPeripheral) Subscribe(notify func(buf []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeErr != nil {
		return p.subscribeErr
	}
	if !p.connected {
		return fmt.Errorf("subscribe: not connected to %s", p.address)
	}
	p.notify = notify
	return nil
}

func (p *MockPeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.notify = nil
	return nil
}

// EmitPower pushes a synthetic Cycling Power Measurement notification to the
// subscriber, if any.
func (p *MockPeripheral) EmitPower(watts int16) {
	p.EmitRaw(EncodePowerMeasurement(watts))
}

// EmitRaw pushes an arbitrary payload, e.g. a truncated packet.
func (p *MockPeripheral) EmitRaw(buf []byte) {
	p.mu.Lock()
	notify := p.notify
	p.mu.Unlock()
	if notify != nil {
		notify(buf)
	}
}

// Verify MockTransport implements Transport.
var _ Transport = (*MockTransport)(nil)

// MockTransport implements Transport over a fixed set of mock peripherals.
type MockTransport struct {
	mu             sync.Mutex
	peripherals    []*MockPeripheral
	connectHandler func(address string, connected bool)
	scanCalls      int
}

func NewMockTransport(peripherals ...*MockPeripheral) *MockTransport {
	return &MockTransport{peripherals: peripherals}
}

func (t *MockTransport) Enable() error { return nil }

func (t *MockTransport) SetConnectHandler(fn func(address string, connected bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectHandler = fn
}

// ScanCalls returns how many times Scan has been invoked.
func (t *MockTransport) ScanCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCalls
}

func (t *MockTransport) Scan(ctx context.Context, nameSubstring string) (Peripheral, error) {
	t.mu.Lock()
	t.scanCalls++
	needle := strings.ToUpper(nameSubstring)
	for _, p := range t.peripherals {
		if strings.Contains(strings.ToUpper(p.name), needle) {
			t.mu.Unlock()
			return p, nil
		}
	}
	t.mu.Unlock()

	// No match configured: behave like an empty airspace.
	<-ctx.Done()
	return nil, fmt.Errorf("no peripheral matching %q found: %w", nameSubstring, ctx.Err())
}

// DropLink simulates the transport reporting a disconnection for address.
func (t *MockTransport) DropLink(address string) {
	t.mu.Lock()
	handler := t.connectHandler
	for _, p := range t.peripherals {
		if p.address == address {
			p.mu.Lock()
			p.connected = false
			p.notify = nil
			p.mu.Unlock()
		}
	}
	t.mu.Unlock()
	if handler != nil {
		handler(address, false)
	}
}

// NewSimulatedTransport returns a mock transport with a single "KICKR SIM"
// peripheral that emits a synthetic power wave at 2 Hz until ctx ends, so
// the whole pipeline can run without hardware.
func NewSimulatedTransport(ctx context.Context, logger *log.Logger) *MockTransport {
	if logger == nil {
		panic("NewSimulatedTransport: logger cannot be nil")
	}
	peripheral := NewMockPeripheral("KICKR SIM 0001", "00:11:22:33:44:55")
	transport := NewMockTransport(peripheral)

	safego.Go(logger, func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Slow sweep between 0 and 300 W with a one-minute period.
				phase := time.Since(start).Seconds() * 2 * math.Pi / 60
				watts := int16(150 + 150*math.Sin(phase))
				peripheral.EmitPower(watts)
			}
		}
	})

	return transport
}
