package spi

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// gpioGetLineEventIOCTL is linux/gpio.h's GPIO_GET_LINEEVENT_IOCTL,
// reproduced locally for the same reason gpio.go reproduces the
// line-handle request code.
const gpioGetLineEventIOCTL = 0xc030b404

const (
	gpioeventRequestRisingEdge  = 1 << 0
	gpioeventRequestFallingEdge = 1 << 1
	gpioeventRequestBothEdges   = gpioeventRequestRisingEdge | gpioeventRequestFallingEdge

	gpiohandleRequestInput = 1 << 0
)

type gpioeventRequest struct {
	lineOffset    uint32
	handleFlags   uint32
	eventFlags    uint32
	consumerLabel [32]byte
	fd            int32
}

type gpioeventData struct {
	timestamp uint64
	id        uint32
	_         uint32
}

// CardDetect watches a GPIO line wired to a card socket's detect
// switch and reports presence changes to a caller-supplied setter
// (typically (*mmcspi.Context).SetNoDisk), the way Daedaluz-goserial's
// Port.readTimeout watches a byte stream for input with the same
// poll.WaitInput primitive.
type CardDetect struct {
	fd         int
	activeLow  bool
	setPresent func(present bool)
}

// OpenCardDetect requests offset on the chip device at path for
// both-edge event notification. activeLow reports whether the line
// reads low when a card is present (most mechanical switches do).
func OpenCardDetect(path string, offset uint32, activeLow bool, setPresent func(present bool)) (*CardDetect, error) {
	chipFd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer syscall.Close(chipFd)

	req := gpioeventRequest{
		lineOffset:  offset,
		handleFlags: gpiohandleRequestInput,
		eventFlags:  gpioeventRequestBothEdges,
	}
	copy(req.consumerLabel[:], "mmcspi-cd")

	if err := ioctl.Ioctl(chipFd, uintptr(gpioGetLineEventIOCTL), uintptr(unsafe.Pointer(&req))); err != nil {
		return nil, err
	}

	return &CardDetect{fd: int(req.fd), activeLow: activeLow, setPresent: setPresent}, nil
}

// Watch blocks until a detect-edge event arrives or timeout elapses,
// then invokes the setter with the line's new presence state. Callers
// run it in a loop from their own goroutine.
func (cd *CardDetect) Watch(timeout time.Duration) error {
	if err := poll.WaitInput(cd.fd, timeout); err != nil {
		return err
	}
	var raw gpioeventData
	buf := (*[16]byte)(unsafe.Pointer(&raw))[:]
	if _, err := syscall.Read(cd.fd, buf); err != nil {
		return err
	}
	present := raw.id == 1 // GPIOEVENT_EVENT_RISING_EDGE
	if cd.activeLow {
		present = !present
	}
	cd.setPresent(present)
	return nil
}

// Close releases the event line's file descriptor.
func (cd *CardDetect) Close() error {
	return syscall.Close(cd.fd)
}
