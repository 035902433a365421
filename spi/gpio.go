package spi

import (
	"syscall"
	"time"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// settleDelay is how long a chip-select transition is held before the
// first clock edge, the ~1ms the card needs to see CS change state.
const settleDelay = time.Millisecond

// GPIO uAPI request codes (linux/gpio.h). goioctl only exposes the
// IOR/IOW/IO helpers used elsewhere in this module; GPIO's line
// request and line-set-values calls are both IOWR, so their request
// codes are written out here as literal constants.
const (
	gpioGetLineHandleIOCTL       = 0xc16cb403
	gpiohandleSetLineValuesIOCTL = 0xc040b409
)

const gpiohandlesMax = 64

type gpiohandleRequest struct {
	lineOffsets   [gpiohandlesMax]uint32
	flags         uint32
	defaultValues [gpiohandlesMax]uint8
	consumerLabel [32]byte
	lines         uint32
	fd            int32
}

type gpiohandleData struct {
	values [gpiohandlesMax]uint8
}

const (
	gpiohandleRequestOutput = 1 << 1
)

// GPIOLine is a single requested line on a Linux GPIO character
// device (/dev/gpiochipN), used here as an SPI chip-select.
type GPIOLine struct {
	fd        int
	activeLow bool
	asserted  bool
}

// OpenCSLine requests offset on the chip device at path as an output
// line, initially deasserted. If activeLow is true, Assert drives the
// line low instead of high (most MMC/SD chip selects are active-low).
func OpenCSLine(path string, offset uint32, activeLow bool) (*GPIOLine, error) {
	chipFd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer syscall.Close(chipFd)

	req := gpiohandleRequest{
		flags: gpiohandleRequestOutput,
		lines: 1,
	}
	req.lineOffsets[0] = offset
	if activeLow {
		req.defaultValues[0] = 1 // deasserted = high when active-low
	} else {
		req.defaultValues[0] = 0
	}
	copy(req.consumerLabel[:], "mmcspi-cs")

	if err := ioctl.Ioctl(chipFd, uintptr(gpioGetLineHandleIOCTL), uintptr(unsafe.Pointer(&req))); err != nil {
		return nil, err
	}

	return &GPIOLine{fd: int(req.fd), activeLow: activeLow}, nil
}

func (g *GPIOLine) setValue(asserted bool) error {
	high := asserted != g.activeLow
	data := gpiohandleData{}
	if high {
		data.values[0] = 1
	}
	if err := ioctl.Ioctl(g.fd, uintptr(gpiohandleSetLineValuesIOCTL), uintptr(unsafe.Pointer(&data))); err != nil {
		return err
	}
	g.asserted = asserted
	time.Sleep(settleDelay)
	return nil
}

// Assert drives the line to its asserted level.
func (g *GPIOLine) Assert() error {
	return g.setValue(true)
}

// Deassert drives the line to its deasserted level.
func (g *GPIOLine) Deassert() error {
	return g.setValue(false)
}

// Close releases the line's file descriptor.
func (g *GPIOLine) Close() error {
	return syscall.Close(g.fd)
}
