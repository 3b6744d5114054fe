package pad

import "sync"

// Call records one write to the mock device.
type Call struct {
	Trigger *uint8
	Button  *Button
	Pressed bool
}

// Verify MockDevice implements Device.
var _ Device = (*MockDevice)(nil)

// MockDevice records writes in order, for tests.
type MockDevice struct {
	mu     sync.Mutex
	calls  []Call
	err    error
	closed bool
}

func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// FailWith makes subsequent writes return err.
func (d *MockDevice) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Calls returns a copy of the recorded writes.
func (d *MockDevice) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// LastTrigger returns the most recent trigger value written, or -1.
func (d *MockDevice) LastTrigger() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.calls) - 1; i >= 0; i-- {
		if d.calls[i].Trigger != nil {
			return int(*d.calls[i].Trigger)
		}
	}
	return -1
}

// ButtonState returns the last pressed state written for button.
func (d *MockDevice) ButtonState(button Button) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.calls) - 1; i >= 0; i-- {
		if d.calls[i].Button != nil && *d.calls[i].Button == button {
			return d.calls[i].Pressed
		}
	}
	return false
}

func (d *MockDevice) SetTrigger(value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	v := value
	d.calls = append(d.calls, Call{Trigger: &v})
	return nil
}

func (d *MockDevice) SetButton(button Button, pressed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	b := button
	d.calls = append(d.calls, Call{Button: &b, Pressed: pressed})
	return nil
}

func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (d *MockDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
