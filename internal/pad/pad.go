// Package pad emits gamepad frames to a virtual uinput device. The power
// pipeline drives the right trigger; keyboard bindings drive the buttons.
package pad

import (
	"errors"
	"fmt"
	"log"
	"math"
)

// Button identifies one virtual gamepad button.
type Button int

const (
	ButtonA Button = iota
	ButtonB
	ButtonX
	ButtonY
	ButtonLB
	ButtonRB
	ButtonDpadLeft
	ButtonDpadRight
	ButtonDpadUp
	ButtonDpadDown
)

var buttonNames = map[Button]string{
	ButtonA:         "a",
	ButtonB:         "b",
	ButtonX:         "x",
	ButtonY:         "y",
	ButtonLB:        "lb",
	ButtonRB:        "rb",
	ButtonDpadLeft:  "dpad_left",
	ButtonDpadRight: "dpad_right",
	ButtonDpadUp:    "dpad_up",
	ButtonDpadDown:  "dpad_down",
}

func (b Button) String() string {
	if name, ok := buttonNames[b]; ok {
		return name
	}
	return fmt.Sprintf("button(%d)", int(b))
}

// ButtonByName resolves a configuration name like "dpad_left" to a Button.
func ButtonByName(name string) (Button, error) {
	for button, n := range buttonNames {
		if n == name {
			return button, nil
		}
	}
	return 0, fmt.Errorf("unknown gamepad button %q", name)
}

// Frame is one complete output state: the trigger position plus every
// button whose state should be asserted. Buttons absent from the map are
// left untouched.
type Frame struct {
	// TriggerRatio is the right trigger position in [0, 1].
	TriggerRatio float64
	Buttons      map[Button]bool
}

// ErrDeviceUnavailable marks failures writing to the virtual device.
var ErrDeviceUnavailable = errors.New("virtual gamepad unavailable")

// Device is the raw virtual gamepad.
type Device interface {
	// SetTrigger sets the right trigger on the 0-255 axis scale.
	SetTrigger(value uint8) error
	SetButton(button Button, pressed bool) error
	Close() error
}

// Sink translates frames into device writes.
type Sink struct {
	device Device
	logger *log.Logger
}

func NewSink(device Device, logger *log.Logger) *Sink {
	if device == nil {
		panic("Sink: device cannot be nil")
	}
	if logger == nil {
		panic("Sink: logger cannot be nil")
	}
	return &Sink{device: device, logger: logger}
}

// Apply writes one frame to the device. The trigger ratio is clamped to
// [0, 1] before scaling to the 0-255 axis range.
func (s *Sink) Apply(frame Frame) error {
	ratio := frame.TriggerRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	value := uint8(math.Round(ratio * 255))
	if err := s.device.SetTrigger(value); err != nil {
		return fmt.Errorf("setting trigger to %d: %w", value, err)
	}
	for button, pressed := range frame.Buttons {
		if err := s.device.SetButton(button, pressed); err != nil {
			return fmt.Errorf("setting button %s to %t: %w", button, pressed, err)
		}
	}
	return nil
}
