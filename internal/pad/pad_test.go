package pad

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSinkScalesTriggerRatio(t *testing.T) {
	device := NewMockDevice()
	sink := NewSink(device, testLogger())

	tests := []struct {
		ratio float64
		want  int
	}{
		{0, 0},
		{1, 255},
		{0.45, 115},
		{0.75, 191},
		{-0.2, 0},  // clamped
		{1.5, 255}, // clamped
	}
	for _, tt := range tests {
		require.NoError(t, sink.Apply(Frame{TriggerRatio: tt.ratio}))
		assert.Equal(t, tt.want, device.LastTrigger(), "ratio %v", tt.ratio)
	}
}

func TestSinkAppliesButtons(t *testing.T) {
	device := NewMockDevice()
	sink := NewSink(device, testLogger())

	err := sink.Apply(Frame{
		TriggerRatio: 0.5,
		Buttons:      map[Button]bool{ButtonA: true, ButtonDpadLeft: false},
	})
	require.NoError(t, err)

	assert.True(t, device.ButtonState(ButtonA))
	assert.False(t, device.ButtonState(ButtonDpadLeft))
}

func TestSinkPropagatesDeviceErrors(t *testing.T) {
	device := NewMockDevice()
	device.FailWith(ErrDeviceUnavailable)
	sink := NewSink(device, testLogger())

	err := sink.Apply(Frame{TriggerRatio: 0.5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
}

func TestButtonByName(t *testing.T) {
	button, err := ButtonByName("dpad_right")
	require.NoError(t, err)
	assert.Equal(t, ButtonDpadRight, button)

	_, err = ButtonByName("trigger_happy")
	assert.Error(t, err)
}

func TestNewSinkValidatesArguments(t *testing.T) {
	assert.Panics(t, func() { NewSink(nil, testLogger()) })
	assert.Panics(t, func() { NewSink(NewMockDevice(), nil) })
}
