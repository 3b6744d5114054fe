package ble

import (
	"errors"
	"fmt"
)

// Bluetooth SIG assigned UUIDs for the Cycling Power Service.
const (
	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"
)

// ErrDecode marks a malformed Cycling Power Measurement payload. Readings
// that fail to decode are dropped and logged; they never tear the link down.
var ErrDecode = errors.New("malformed cycling power measurement")

// DecodeInstantaneousPower extracts the instantaneous power field from a
// Cycling Power Measurement notification.
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
//
// Layout: flags (UINT16, little-endian) at bytes 0-1, instantaneous power
// (SINT16, little-endian, watts) at bytes 2-3. Optional fields announced by
// the flags follow the power field and are ignored.
func DecodeInstantaneousPower(buf []byte) (int16, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: %d bytes", ErrDecode, len(buf))
	}
	return int16(uint16(buf[2]) | uint16(buf[3])<<8), nil
}

// EncodePowerMeasurement builds a minimal Cycling Power Measurement payload
// carrying only the mandatory flags and instantaneous power fields. Used by
// the mock transport and tests.
func EncodePowerMeasurement(watts int16) []byte {
	return []byte{0x00, 0x00, byte(uint16(watts)), byte(uint16(watts) >> 8)}
}
