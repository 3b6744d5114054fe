package ble

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Transport is the peripheral-scanning collaborator. It hides the BLE stack
// behind the three calls the link state machine needs.
type Transport interface {
	Enable() error
	// Scan blocks until a peripheral whose advertised name contains
	// nameSubstring (case-insensitive) is discovered, or ctx expires.
	// The first match wins; there is no ranking among candidates.
	Scan(ctx context.Context, nameSubstring string) (Peripheral, error)
	// SetConnectHandler registers a callback invoked on every connect and
	// disconnect event the adapter reports. Only one handler is active at
	// a time; registering replaces the previous one.
	SetConnectHandler(fn func(address string, connected bool))
}

// Peripheral is a discovered power sensor.
type Peripheral interface {
	Name() string
	Address() string
	Connect(ctx context.Context) error
	// Subscribe enables notifications on the Cycling Power Measurement
	// characteristic; notify is invoked once per notification payload.
	Subscribe(notify func(buf []byte)) error
	Disconnect() error
}

// Verify BLETransport implements Transport.
var _ Transport = (*BLETransport)(nil)

// BLETransport implements Transport on tinygo.org/x/bluetooth.
type BLETransport struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger
}

func NewBLETransport(adapter *bluetooth.Adapter, logger *log.Logger) *BLETransport {
	if adapter == nil {
		panic("BLETransport: adapter cannot be nil")
	}
	if logger == nil {
		panic("BLETransport: logger cannot be nil")
	}
	return &BLETransport{adapter: adapter, logger: logger}
}

func (t *BLETransport) Enable() error {
	return t.adapter.Enable()
}

func (t *BLETransport) SetConnectHandler(fn func(address string, connected bool)) {
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		fn(device.Address.String(), connected)
	})
}

func (t *BLETransport) Scan(ctx context.Context, nameSubstring string) (Peripheral, error) {
	needle := strings.ToUpper(nameSubstring)
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	var once sync.Once

	// adapter.Scan blocks until StopScan; the callback fires per advertisement.
	go func() {
		err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}
			if !strings.Contains(strings.ToUpper(name), needle) {
				return
			}
			once.Do(func() { found <- result })
		})
		if err != nil {
			scanErr <- err
		}
	}()

	select {
	case result := <-found:
		if err := t.adapter.StopScan(); err != nil {
			t.logger.Printf("BLETransport: error stopping scan: %v", err)
		}
		return &blePeripheral{
			transport: t,
			name:      result.LocalName(),
			address:   result.Address,
		}, nil
	case err := <-scanErr:
		return nil, fmt.Errorf("scan failed: %w", err)
	case <-ctx.Done():
		if err := t.adapter.StopScan(); err != nil {
			t.logger.Printf("BLETransport: error stopping scan: %v", err)
		}
		return nil, fmt.Errorf("no peripheral matching %q found: %w", nameSubstring, ctx.Err())
	}
}

type blePeripheral struct {
	transport *BLETransport
	name      string
	address   bluetooth.Address

	mu     sync.Mutex
	device *bluetooth.Device
}

func (p *blePeripheral) Name() string    { return p.name }
func (p *blePeripheral) Address() string { return p.address.String() }

func (p *blePeripheral) Connect(ctx context.Context) error {
	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	device, err := p.transport.adapter.Connect(p.address, params)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", p.address.String(), err)
	}

	p.mu.Lock()
	p.device = &device
	p.mu.Unlock()
	return nil
}

func (p *blePeripheral) Subscribe(notify func(buf []byte)) error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return fmt.Errorf("subscribe: not connected to %s", p.address.String())
	}

	serviceUUID, err := bluetooth.ParseUUID(ServiceUUIDCyclingPower)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(CharUUIDCyclingPowerMeasurement)
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return fmt.Errorf("discover cycling power service: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("device %s does not expose the cycling power service", p.address.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return fmt.Errorf("discover power measurement characteristic: %w", err)
	}
	if len(chars) == 0 {
		return fmt.Errorf("device %s does not expose the power measurement characteristic", p.address.String())
	}

	if err := chars[0].EnableNotifications(notify); err != nil {
		return fmt.Errorf("enable power notifications: %w", err)
	}
	return nil
}

func (p *blePeripheral) Disconnect() error {
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.mu.Unlock()
	if device == nil {
		return nil
	}
	return device.Disconnect()
}
