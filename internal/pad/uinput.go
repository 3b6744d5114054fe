package pad

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// uinput protocol constants, from linux/uinput.h and
// linux/input-event-codes.h.
const (
	uiSetEvBit   = 0x40045564 // _IOW('U', 100, int)
	uiSetKeyBit  = 0x40045565 // _IOW('U', 101, int)
	uiSetAbsBit  = 0x40045567 // _IOW('U', 103, int)
	uiDevCreate  = 0x5501     // _IO('U', 1)
	uiDevDestroy = 0x5502     // _IO('U', 2)

	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport = 0x00

	// ABS_RZ is the right trigger axis on kernel gamepad drivers,
	// reported in the 0-255 range.
	absRZ = 0x05

	btnA         = 0x130 // BTN_SOUTH
	btnB         = 0x131 // BTN_EAST
	btnX         = 0x133 // BTN_NORTH on Xbox-layout pads
	btnY         = 0x134 // BTN_WEST on Xbox-layout pads
	btnTL        = 0x136
	btnTR        = 0x137
	btnDpadUp    = 0x220
	btnDpadDown  = 0x221
	btnDpadLeft  = 0x222
	btnDpadRight = 0x223

	busUSB = 0x03
)

// Xbox 360 controller identifiers, recognized by most games out of the box.
const (
	vendorID  = 0x045E
	productID = 0x028E
)

var uinputButtons = map[Button]uint16{
	ButtonA:         btnA,
	ButtonB:         btnB,
	ButtonX:         btnX,
	ButtonY:         btnY,
	ButtonLB:        btnTL,
	ButtonRB:        btnTR,
	ButtonDpadLeft:  btnDpadLeft,
	ButtonDpadRight: btnDpadRight,
	ButtonDpadUp:    btnDpadUp,
	ButtonDpadDown:  btnDpadDown,
}

const (
	devNameLen = 80
	absCount   = 0x40

	// struct uinput_user_dev: name, input_id (4 x uint16),
	// ff_effects_max, then absmax/absmin/absfuzz/absflat arrays.
	userDevSize = devNameLen + 8 + 4 + 4*4*absCount

	// struct input_event on 64-bit: 16-byte timeval, type, code, value.
	inputEventSize = 24
)

type inputEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// marshalEvents packs events into the kernel's struct input_event wire
// layout. Timestamps are left zero; the kernel stamps writes itself.
func marshalEvents(events ...inputEvent) []byte {
	buf := make([]byte, len(events)*inputEventSize)
	for i, ev := range events {
		off := i * inputEventSize
		binary.LittleEndian.PutUint16(buf[off+16:], ev.Type)
		binary.LittleEndian.PutUint16(buf[off+18:], ev.Code)
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(ev.Value))
	}
	return buf
}

// userDevBytes builds the struct uinput_user_dev setup payload: device
// name, USB ids and a 0-255 range on the trigger axis.
func userDevBytes(name string) []byte {
	buf := make([]byte, userDevSize)
	copy(buf[:devNameLen-1], name)
	binary.LittleEndian.PutUint16(buf[devNameLen:], busUSB)
	binary.LittleEndian.PutUint16(buf[devNameLen+2:], vendorID)
	binary.LittleEndian.PutUint16(buf[devNameLen+4:], productID)
	binary.LittleEndian.PutUint16(buf[devNameLen+6:], 1) // version
	absMaxOff := devNameLen + 8 + 4 + 4*absRZ
	binary.LittleEndian.PutUint32(buf[absMaxOff:], 255)
	return buf
}

// Verify UinputDevice implements Device.
var _ Device = (*UinputDevice)(nil)

// UinputDevice is a virtual gamepad backed by /dev/uinput: the Xbox-layout
// buttons as EV_KEY events and the right trigger as an absolute ABS_RZ
// axis. Creating one requires write access to the uinput device node.
type UinputDevice struct {
	file *os.File
}

func NewUinputDevice(name string) (*UinputDevice, error) {
	file, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/uinput: %w: %v", ErrDeviceUnavailable, err)
	}
	d := &UinputDevice{file: file}
	if err := d.setup(name); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("creating virtual gamepad: %w: %v", ErrDeviceUnavailable, err)
	}
	return d, nil
}

func (d *UinputDevice) setup(name string) error {
	for _, ev := range []uintptr{evKey, evAbs} {
		if err := d.ioctl(uiSetEvBit, ev); err != nil {
			return fmt.Errorf("enabling event type %#x: %w", ev, err)
		}
	}
	for button, code := range uinputButtons {
		if err := d.ioctl(uiSetKeyBit, uintptr(code)); err != nil {
			return fmt.Errorf("enabling button %s: %w", button, err)
		}
	}
	if err := d.ioctl(uiSetAbsBit, absRZ); err != nil {
		return fmt.Errorf("enabling trigger axis: %w", err)
	}
	if _, err := d.file.Write(userDevBytes(name)); err != nil {
		return fmt.Errorf("writing device setup: %w", err)
	}
	if err := d.ioctl(uiDevCreate, 0); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	return nil
}

func (d *UinputDevice) ioctl(req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *UinputDevice) SetTrigger(value uint8) error {
	return d.emit(inputEvent{Type: evAbs, Code: absRZ, Value: int32(value)})
}

func (d *UinputDevice) SetButton(button Button, pressed bool) error {
	code, ok := uinputButtons[button]
	if !ok {
		return fmt.Errorf("button %s has no uinput keycode", button)
	}
	var value int32
	if pressed {
		value = 1
	}
	return d.emit(inputEvent{Type: evKey, Code: code, Value: value})
}

// emit writes one event followed by the SYN_REPORT that flushes it to
// readers.
func (d *UinputDevice) emit(ev inputEvent) error {
	payload := marshalEvents(ev, inputEvent{Type: evSyn, Code: synReport})
	if _, err := d.file.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (d *UinputDevice) Close() error {
	if err := d.ioctl(uiDevDestroy, 0); err != nil {
		_ = d.file.Close()
		return fmt.Errorf("destroying virtual gamepad: %w", err)
	}
	return d.file.Close()
}
