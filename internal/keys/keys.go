// Package keys captures physical keyboard press and release events so they
// can be mirrored onto virtual gamepad buttons.
package keys

import (
	"fmt"
	"log"
	"strings"

	"github.com/MarinX/keylogger"

	"github.com/velopad/velopad/internal/safego"
)

// Event is a single key transition. Key is the lowercased evdev key name,
// e.g. "home", "l_shift" or "=".
type Event struct {
	Key     string
	Pressed bool
}

// Sink receives each key transition the moment it is read from the device,
// so downstream ordering reflects the physical event order. Implementations
// must not block.
type Sink func(Event)

// Source is a running keyboard capture.
type Source interface {
	Close() error
}

// translate converts a raw evdev event into an Event. Non-key events and
// auto-repeats carry no transition and are skipped.
func translate(ev keylogger.InputEvent) (Event, bool) {
	if ev.Type != keylogger.EvKey {
		return Event{}, false
	}
	var pressed bool
	switch {
	case ev.KeyPress():
		pressed = true
	case ev.KeyRelease():
		pressed = false
	default:
		return Event{}, false
	}
	return Event{Key: strings.ToLower(ev.KeyString()), Pressed: pressed}, true
}

// Verify EvdevSource implements Source.
var _ Source = (*EvdevSource)(nil)

// EvdevSource reads key transitions from a Linux evdev keyboard device and
// pushes them into the sink. Reading /dev/input requires root or membership
// in the input group.
type EvdevSource struct {
	device *keylogger.KeyLogger
	logger *log.Logger
}

// NewEvdevSource opens devicePath, or auto-detects the first keyboard under
// /dev/input when devicePath is empty.
func NewEvdevSource(devicePath string, sink Sink, logger *log.Logger) (*EvdevSource, error) {
	if sink == nil {
		panic("EvdevSource: sink cannot be nil")
	}
	if logger == nil {
		panic("EvdevSource: logger cannot be nil")
	}
	if devicePath == "" {
		devicePath = keylogger.FindKeyboardDevice()
	}
	if devicePath == "" {
		return nil, fmt.Errorf("no keyboard device found under /dev/input")
	}

	device, err := keylogger.New(devicePath)
	if err != nil {
		return nil, fmt.Errorf("opening keyboard device %s: %w", devicePath, err)
	}
	logger.Printf("Keys: capturing keyboard events from %s", devicePath)

	raw := device.Read()
	safego.Go(logger, func() {
		for ev := range raw {
			if event, ok := translate(ev); ok {
				sink(event)
			}
		}
	})

	return &EvdevSource{device: device, logger: logger}, nil
}

// Close stops the capture; the reader goroutine ends once the device
// stream drains.
func (s *EvdevSource) Close() error {
	return s.device.Close()
}

// Verify NullSource implements Source.
var _ Source = (*NullSource)(nil)

// NullSource never delivers events. It stands in when keyboard capture is
// unavailable so the power pipeline can still run.
type NullSource struct{}

func NewNullSource() *NullSource { return &NullSource{} }

func (s *NullSource) Close() error { return nil }
