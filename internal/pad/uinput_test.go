package pad

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEventsLayout(t *testing.T) {
	buf := marshalEvents(
		inputEvent{Type: evAbs, Code: absRZ, Value: 191},
		inputEvent{Type: evSyn, Code: synReport},
	)
	require.Len(t, buf, 2*inputEventSize)

	// First 16 bytes of each event are the zeroed timestamp.
	for i := 0; i < 16; i++ {
		assert.Zero(t, buf[i])
	}
	assert.Equal(t, uint16(evAbs), binary.LittleEndian.Uint16(buf[16:]))
	assert.Equal(t, uint16(absRZ), binary.LittleEndian.Uint16(buf[18:]))
	assert.Equal(t, uint32(191), binary.LittleEndian.Uint32(buf[20:]))

	syn := buf[inputEventSize:]
	assert.Equal(t, uint16(evSyn), binary.LittleEndian.Uint16(syn[16:]))
	assert.Equal(t, uint16(synReport), binary.LittleEndian.Uint16(syn[18:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(syn[20:]))
}

func TestUserDevBytesLayout(t *testing.T) {
	buf := userDevBytes("velopad virtual gamepad")
	require.Len(t, buf, userDevSize)

	name := string(buf[:devNameLen])
	assert.True(t, strings.HasPrefix(name, "velopad virtual gamepad\x00"))

	assert.Equal(t, uint16(busUSB), binary.LittleEndian.Uint16(buf[devNameLen:]))
	assert.Equal(t, uint16(vendorID), binary.LittleEndian.Uint16(buf[devNameLen+2:]))
	assert.Equal(t, uint16(productID), binary.LittleEndian.Uint16(buf[devNameLen+4:]))

	// The trigger axis advertises the 0-255 range; every other axis
	// bound stays zero.
	absMax := buf[devNameLen+12:]
	for axis := 0; axis < absCount; axis++ {
		got := binary.LittleEndian.Uint32(absMax[4*axis:])
		if axis == absRZ {
			assert.Equal(t, uint32(255), got)
		} else {
			assert.Zero(t, got, "axis %#x", axis)
		}
	}
}

func TestUserDevBytesTruncatesLongNames(t *testing.T) {
	buf := userDevBytes(strings.Repeat("x", 200))
	require.Len(t, buf, userDevSize)

	// The name field keeps its terminating NUL byte.
	assert.Zero(t, buf[devNameLen-1])
	assert.Equal(t, uint16(busUSB), binary.LittleEndian.Uint16(buf[devNameLen:]))
}

func TestEveryButtonHasAKeycode(t *testing.T) {
	for button := range buttonNames {
		_, ok := uinputButtons[button]
		assert.True(t, ok, "button %s has no uinput keycode", button)
	}
}
