package bridge

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velopad/velopad/internal/ble"
	"github.com/velopad/velopad/internal/curve"
	"github.com/velopad/velopad/internal/filter"
	"github.com/velopad/velopad/internal/keys"
	"github.com/velopad/velopad/internal/pad"
)

type harness struct {
	device  *pad.MockDevice
	bridge  *Bridge
	updates chan Update
	done    chan error
}

func newHarness(t *testing.T, thresholdWatts float64, window int) *harness {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	device := pad.NewMockDevice()

	responseCurve, err := curve.New(curve.Params{
		FTPWatts:         230,
		ThresholdWatts:   thresholdWatts,
		TargetRatioAtFTP: 0.75,
		MaxRatio:         0.95,
	})
	require.NoError(t, err)

	powerFilter, err := filter.New(thresholdWatts, window)
	require.NoError(t, err)

	binding, err := NewBinding(map[string]string{
		"home":    "a",
		"l_shift": "b",
		"left":    "dpad_left",
	})
	require.NoError(t, err)

	b := New(powerFilter, responseCurve, pad.NewSink(device, logger), binding, logger, io.Discard)

	updates := make(chan Update, 32)
	t.Cleanup(b.ListenFrames(updates))

	return &harness{device: device, bridge: b, updates: updates, done: make(chan error, 1)}
}

// start runs the loop; events enqueued beforehand are consumed in order.
func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		h.done <- h.bridge.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Error("bridge did not stop")
		}
	})
}

func (h *harness) subscribe() {
	h.bridge.OnStatus(ble.Status{State: ble.StateSubscribed})
}

func (h *harness) emit(watts float64) {
	h.bridge.OnReading(ble.Reading{Watts: watts, At: time.Now()})
}

func (h *harness) nextUpdate(t *testing.T) Update {
	t.Helper()
	select {
	case update := <-h.updates:
		return update
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Update{}
	}
}

func (h *harness) expectNoUpdate(t *testing.T) {
	t.Helper()
	select {
	case update := <-h.updates:
		t.Fatalf("unexpected frame: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeTranslatesPowerToTrigger(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.start(t)

	h.emit(230)
	update := h.nextUpdate(t)
	assert.Equal(t, 230.0, update.Watts)
	assert.InDelta(t, 0.75, update.Frame.TriggerRatio, 1e-9)
	assert.Equal(t, 191, h.device.LastTrigger())
}

func TestBridgeSmoothsReadings(t *testing.T) {
	h := newHarness(t, 0, 3)
	h.subscribe()
	h.start(t)

	h.emit(90)
	assert.Equal(t, 90.0, h.nextUpdate(t).Watts)
	h.emit(110)
	assert.Equal(t, 100.0, h.nextUpdate(t).Watts)
	h.emit(130)
	assert.Equal(t, 110.0, h.nextUpdate(t).Watts)
	h.emit(150)
	assert.Equal(t, 130.0, h.nextUpdate(t).Watts)
}

func TestBridgeDropsSubThresholdReadings(t *testing.T) {
	h := newHarness(t, 20, 3)
	h.subscribe()
	h.start(t)

	h.emit(15)
	h.expectNoUpdate(t)

	// The dropped sample must not dilute the average either.
	h.emit(100)
	assert.Equal(t, 100.0, h.nextUpdate(t).Watts)
}

func TestBridgeKeyEventsToggleButtons(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.start(t)

	h.bridge.OnKey(keys.Event{Key: "home", Pressed: true})
	update := h.nextUpdate(t)
	assert.True(t, update.Frame.Buttons[pad.ButtonA])
	assert.True(t, h.device.ButtonState(pad.ButtonA))

	h.bridge.OnKey(keys.Event{Key: "home", Pressed: false})
	update = h.nextUpdate(t)
	assert.False(t, update.Frame.Buttons[pad.ButtonA])
	assert.False(t, h.device.ButtonState(pad.ButtonA))
}

func TestBridgeIgnoresUnboundAndRepeatedKeys(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.start(t)

	h.bridge.OnKey(keys.Event{Key: "f12", Pressed: true})
	h.expectNoUpdate(t)

	h.bridge.OnKey(keys.Event{Key: "home", Pressed: true})
	h.nextUpdate(t)
	// A repeated press of an already-down key changes nothing.
	h.bridge.OnKey(keys.Event{Key: "home", Pressed: true})
	h.expectNoUpdate(t)
}

func TestBridgeButtonsSurvivePowerFrames(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.start(t)

	h.bridge.OnKey(keys.Event{Key: "l_shift", Pressed: true})
	h.nextUpdate(t)

	h.emit(200)
	update := h.nextUpdate(t)
	assert.True(t, update.Frame.Buttons[pad.ButtonB],
		"held button must persist across power frames")
}

// Interleaved power readings and key events enqueued in a known order must
// reach the sink in exactly that order. Everything is queued before the
// loop starts so the test exercises pure queue order, not timing.
func TestBridgeAppliesFramesInArrivalOrder(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()

	h.emit(230)
	h.bridge.OnKey(keys.Event{Key: "home", Pressed: true})
	h.emit(100)
	h.bridge.OnKey(keys.Event{Key: "home", Pressed: false})

	h.start(t)

	first := h.nextUpdate(t)
	assert.Equal(t, 230.0, first.Watts)
	assert.False(t, first.Frame.Buttons[pad.ButtonA],
		"power frame must be applied before the later key press")

	second := h.nextUpdate(t)
	assert.Equal(t, 230.0, second.Watts)
	assert.True(t, second.Frame.Buttons[pad.ButtonA])

	third := h.nextUpdate(t)
	assert.Equal(t, 100.0, third.Watts)
	assert.True(t, third.Frame.Buttons[pad.ButtonA])

	fourth := h.nextUpdate(t)
	assert.Equal(t, 100.0, fourth.Watts)
	assert.False(t, fourth.Frame.Buttons[pad.ButtonA])

	// The sink saw the same order: trigger write, press, trigger, release.
	var sequence []string
	for _, call := range h.device.Calls() {
		switch {
		case call.Trigger != nil:
			sequence = append(sequence, "trigger")
		case call.Button != nil && *call.Button == pad.ButtonA:
			if call.Pressed {
				sequence = append(sequence, "press")
			} else {
				sequence = append(sequence, "release")
			}
		}
	}
	assert.Equal(t,
		[]string{"trigger", "trigger", "press", "trigger", "press", "trigger", "release"},
		sequence)
}

func TestBridgeDiscardsReadingsWhenNotSubscribed(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.bridge.OnStatus(ble.Status{State: ble.StateDisconnected, Reason: ble.ReasonLinkLost})
	h.emit(200)
	h.start(t)

	h.expectNoUpdate(t)
}

func TestBridgeResetsFilterOnDisconnect(t *testing.T) {
	h := newHarness(t, 0, 3)
	h.subscribe()
	h.start(t)

	h.emit(100)
	h.nextUpdate(t)
	h.emit(200)
	assert.Equal(t, 150.0, h.nextUpdate(t).Watts)

	h.bridge.OnStatus(ble.Status{State: ble.StateDisconnected, Reason: ble.ReasonLinkLost})
	h.subscribe()

	// A fresh session starts with an empty window.
	h.emit(120)
	assert.Equal(t, 120.0, h.nextUpdate(t).Watts)
}

func TestBridgeStopsOnSinkFailure(t *testing.T) {
	h := newHarness(t, 0, 1)
	h.subscribe()
	h.start(t)

	h.device.FailWith(pad.ErrDeviceUnavailable)
	h.emit(200)

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.ErrorIs(t, err, pad.ErrDeviceUnavailable)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on sink failure")
	}
}

func TestBridgeReportsAppliedFrames(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	var out bytes.Buffer

	responseCurve, err := curve.New(curve.Params{
		FTPWatts: 230, TargetRatioAtFTP: 0.75, MaxRatio: 0.95,
	})
	require.NoError(t, err)
	powerFilter, err := filter.New(0, 1)
	require.NoError(t, err)

	b := New(powerFilter, responseCurve, pad.NewSink(pad.NewMockDevice(), logger), nil, logger, &out)

	updates := make(chan Update, 1)
	defer b.ListenFrames(updates)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.OnStatus(ble.Status{State: ble.StateSubscribed})
	b.OnReading(ble.Reading{Watts: 230, At: time.Now()})
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}

	// The report line is written before the update is published.
	assert.Equal(t, "230 W → Trigger: 0.75\n", out.String())
}

func TestNewBindingRejectsUnknownButtons(t *testing.T) {
	_, err := NewBinding(map[string]string{"home": "mega_button"})
	assert.Error(t, err)
}
