// Package spi provides a Linux spidev transport and GPIO chip-select
// line that together implement mmcspi.Bus over real hardware.
package spi

import (
	"reflect"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/mmcspi"

	ioctl "github.com/daedaluz/goioctl"
)

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	len     uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWrMode32    = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCWrMaxSpeed  = ioctl.IOW(spiIOCMagic, 4, 4)
	spiIOCWrBitsPWord = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCMessage     = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))
)

// Mode is the SPI clock polarity/phase mode.
type Mode uint32

const (
	Mode0 Mode = 0
	Mode1 Mode = 1
	Mode2 Mode = 2
	Mode3 Mode = 3
)

// Config configures a Device at Open time. MMC/SD cards run SPI mode
// 0 at up to 400kHz until initialization completes, then at whatever
// higher speed the card and host agree on.
type Config struct {
	Mode  Mode
	Bits  uint8
	Speed uint32
}

// Device is a Linux /dev/spidevX.Y character device, driving chip
// select through a separate GPIOLine since most spidev controllers
// do not toggle CS on a byte-by-byte basis the way this protocol
// needs (ready-waits and busy-drains interleave single-byte
// transfers within one logical command).
type Device struct {
	fd  int
	cfg Config
	cs  *GPIOLine
}

// Open opens path (e.g. "/dev/spidev0.0") configured per cfg, driving
// chip select through cs.
func Open(path string, cfg Config, cs *GPIOLine) (*Device, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := ioctl.Ioctl(fd, spiIOCWrMode32, uintptr(unsafe.Pointer(&cfg.Mode))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(fd, spiIOCWrBitsPWord, uintptr(unsafe.Pointer(&cfg.Bits))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(fd, spiIOCWrMaxSpeed, uintptr(unsafe.Pointer(&cfg.Speed))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &Device{fd: fd, cfg: cfg, cs: cs}, nil
}

// Close releases the underlying file descriptor. It does not close
// the GPIOLine passed to Open, since callers may share a chip-select
// or card-detect line across devices.
func (d *Device) Close() error {
	return syscall.Close(d.fd)
}

func (d *Device) transfer(tx, rx []byte) error {
	txHeader := (*reflect.SliceHeader)(unsafe.Pointer(&tx))
	var rxAddr uint64
	if rx != nil {
		rxHeader := (*reflect.SliceHeader)(unsafe.Pointer(&rx))
		rxAddr = uint64(rxHeader.Data)
	}
	xfer := &spiIOCTransfer{
		txBuf:       uint64(txHeader.Data),
		rxBuf:       rxAddr,
		len:         uint32(txHeader.Len),
		speedHz:     d.cfg.Speed,
		bitsPerWord: d.cfg.Bits,
	}
	return ioctl.Ioctl(d.fd, spiIOCMessage, uintptr(unsafe.Pointer(xfer)))
}

// TxByte implements mmcspi.Bus.
func (d *Device) TxByte(b byte) error {
	buf := [1]byte{b}
	return d.transfer(buf[:], nil)
}

// RxByte implements mmcspi.Bus by clocking out 0xFF, the idle line
// level the card's own output floats to while it has nothing to say.
func (d *Device) RxByte() (byte, error) {
	tx := [1]byte{0xFF}
	rx := [1]byte{0}
	if err := d.transfer(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return rx[0], nil
}

// TxBuffer implements mmcspi.Bus.
func (d *Device) TxBuffer(buf []byte) error {
	return d.transfer(buf, nil)
}

// RxBuffer implements mmcspi.Bus by clocking out 0xFF for every byte
// requested.
func (d *Device) RxBuffer(buf []byte) error {
	tx := make([]byte, len(buf))
	for i := range tx {
		tx[i] = 0xFF
	}
	return d.transfer(tx, buf)
}

// AssertCS implements mmcspi.Bus.
func (d *Device) AssertCS() error {
	return d.cs.Assert()
}

// DeassertCS implements mmcspi.Bus.
func (d *Device) DeassertCS() error {
	return d.cs.Deassert()
}

// Delay implements mmcspi.Bus.
func (d *Device) Delay(dur time.Duration) {
	time.Sleep(dur)
}

// Clock implements mmcspi.Bus.
func (d *Device) Clock() mmcspi.Clock {
	return mmcspi.SystemClock()
}
