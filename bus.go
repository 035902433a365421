package mmcspi

import "time"

// Bus is the capability set the driver consumes from its environment
// (spec.md §4.1): byte and buffer transfer over the serial link,
// chip-select assertion with settle delay, and a millisecond delay
// primitive. Every method must block until its transfer has actually
// completed before returning — this is what discharges the
// asynchronous-bus-completion requirement (spec.md §9) without the
// driver needing to poll a completion flag itself.
type Bus interface {
	// TxByte transmits a single byte.
	TxByte(b byte) error
	// RxByte receives a single byte, implemented as a
	// transmit-receive of 0xFF.
	RxByte() (byte, error)
	// TxBuffer transmits buf in full.
	TxBuffer(buf []byte) error
	// RxBuffer fills buf in full via transmit-receive of 0xFF bytes.
	RxBuffer(buf []byte) error

	// AssertCS asserts the chip-select line and settles for the
	// ~1ms the card needs to observe it.
	AssertCS() error
	// DeassertCS deasserts the chip-select line and settles for
	// ~1ms. Every AssertCS call must be matched by one of these.
	DeassertCS() error

	// Delay blocks the calling goroutine for d.
	Delay(d time.Duration)

	// Clock returns the time source used for ready-wait, token-wait
	// and op-cond-poll deadlines.
	Clock() Clock
}
