package mmcspi

import (
	"encoding/binary"
	"time"
)

// fakeClock is a manually-advanced Clock for deadline tests, the way
// the pack's hardware-driver suites inject a controllable time source
// instead of sleeping in real time.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// busEvent records one chip-select transition or one transferred
// byte, for the chip-select discipline invariant (spec.md §8
// invariant 3).
type busEvent struct {
	kind string // "assert", "deassert", "tx", "rx"
	b    byte
}

// queueBus is a scripted mock Bus: RxByte/RxBuffer drain a
// pre-loaded byte queue, defaulting to the idle 0xFF once drained,
// matching the "mock bus that simulates a card" spec.md §8 describes
// for its concrete wire-level scenarios.
type queueBus struct {
	rx    []byte
	idle  byte // returned once rx is drained; 0xFF unless overridden
	txLog [][]byte
	log   []busEvent
	clock *fakeClock
}

func newQueueBus() *queueBus {
	return &queueBus{clock: newFakeClock(), idle: 0xFF}
}

func (b *queueBus) queue(bytes ...byte) {
	b.rx = append(b.rx, bytes...)
}

func (b *queueBus) popByte() byte {
	if len(b.rx) == 0 {
		return b.idle
	}
	v := b.rx[0]
	b.rx = b.rx[1:]
	return v
}

func (b *queueBus) TxByte(v byte) error {
	b.log = append(b.log, busEvent{kind: "tx", b: v})
	b.txLog = append(b.txLog, []byte{v})
	return nil
}

// rxLatency is how far each RxByte call advances the bus's fakeClock,
// simulating the time a real transfer takes so deadline loops that
// depend on wall-clock progress (op-cond polling) actually terminate
// in a test instead of spinning against a clock that never moves.
const rxLatency = time.Millisecond

func (b *queueBus) RxByte() (byte, error) {
	v := b.popByte()
	b.log = append(b.log, busEvent{kind: "rx", b: v})
	b.clock.Advance(rxLatency)
	return v, nil
}

func (b *queueBus) TxBuffer(buf []byte) error {
	cp := append([]byte(nil), buf...)
	b.txLog = append(b.txLog, cp)
	for _, v := range buf {
		b.log = append(b.log, busEvent{kind: "tx", b: v})
	}
	return nil
}

func (b *queueBus) RxBuffer(buf []byte) error {
	for i := range buf {
		buf[i] = b.popByte()
	}
	return nil
}

func (b *queueBus) AssertCS() error {
	b.log = append(b.log, busEvent{kind: "assert"})
	return nil
}

func (b *queueBus) DeassertCS() error {
	b.log = append(b.log, busEvent{kind: "deassert"})
	return nil
}

func (b *queueBus) Delay(time.Duration) {}

func (b *queueBus) Clock() Clock { return b.clock }

// commandFrames returns every 6-byte command frame seen on the bus,
// in the order they were transmitted, for argument-encoding checks.
func (b *queueBus) commandFrames() [][6]byte {
	var out [][6]byte
	for _, frame := range b.txLog {
		if len(frame) == 6 && frame[0]&0xC0 == 0x40 {
			var f [6]byte
			copy(f[:], frame)
			out = append(out, f)
		}
	}
	return out
}

// csDisciplined reports whether every "assert" in the log is followed
// by exactly one "deassert" and then exactly one dummy byte transfer
// before the next "assert" (spec.md §8 invariant 3).
func csDisciplined(log []busEvent) bool {
	state := "idle" // idle -> asserted -> deasserted -> settled
	for _, ev := range log {
		switch state {
		case "idle", "settled":
			if ev.kind == "assert" {
				state = "asserted"
			} else if state == "settled" && (ev.kind == "tx" || ev.kind == "rx") {
				return false // more than one dummy byte
			}
		case "asserted":
			if ev.kind == "deassert" {
				state = "deasserted"
			}
		case "deasserted":
			if ev.kind == "tx" || ev.kind == "rx" {
				state = "settled"
			} else if ev.kind == "assert" {
				return false // missing the dummy byte
			}
		}
	}
	return state != "asserted" && state != "deasserted"
}

// simCard is a stateful Bus backed by an in-memory sector array,
// interpreting command frames and data tokens well enough to answer
// Read/Write/Ioctl round-trips realistically (spec.md §8's "mock bus
// that simulates a card").
type simCard struct {
	storage []byte
	csd     [16]byte
	clock   *fakeClock
	rxQueue []byte

	awaitingToken   bool
	awaitingPayload bool
	writeAddr       uint32
	writeToken      byte
}

func newSimCard(sectors int) *simCard {
	s := &simCard{
		storage: make([]byte, sectors*SectorSize),
		clock:   newFakeClock(),
	}
	s.csd[0] = 0x40 // CSD v2.0
	if sectors >= 1024 && sectors%1024 == 0 {
		cSize := uint32(sectors)/1024 - 1
		s.csd[8] = byte(cSize >> 8)
		s.csd[9] = byte(cSize)
	}
	return s
}

func (s *simCard) sectorCount() int { return len(s.storage) / SectorSize }

func (s *simCard) enqueue(bytes ...byte) {
	s.rxQueue = append(s.rxQueue, bytes...)
}

func (s *simCard) popByte() byte {
	if len(s.rxQueue) == 0 {
		return 0xFF
	}
	v := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]
	return v
}

func (s *simCard) TxByte(b byte) error {
	switch {
	case s.awaitingToken && (b == tokenStart || b == tokenMultiWrite):
		s.writeToken = b
		s.awaitingToken = false
		s.awaitingPayload = true
	case b == tokenStopTran:
		s.awaitingToken = false
	}
	return nil
}

func (s *simCard) RxByte() (byte, error) {
	return s.popByte(), nil
}

func (s *simCard) TxBuffer(buf []byte) error {
	if len(buf) == 6 && buf[0]&0xC0 == 0x40 {
		s.handleCommand(buf)
		return nil
	}
	if len(buf) == SectorSize && s.awaitingPayload {
		off := int(s.writeAddr) * SectorSize
		copy(s.storage[off:off+SectorSize], buf)
		s.awaitingPayload = false
		s.enqueue(0x05, 0x00, 0x00, 0xFF)
		if s.writeToken == tokenMultiWrite {
			s.writeAddr++
			s.awaitingToken = true
		}
	}
	return nil
}

func (s *simCard) RxBuffer(buf []byte) error {
	for i := range buf {
		buf[i] = s.popByte()
	}
	return nil
}

func (s *simCard) AssertCS() error   { return nil }
func (s *simCard) DeassertCS() error { return nil }
func (s *simCard) Delay(time.Duration) {}
func (s *simCard) Clock() Clock { return s.clock }

func (s *simCard) enqueueBlock(addr uint32) {
	off := int(addr) * SectorSize
	s.enqueue(tokenStart)
	s.enqueue(s.storage[off : off+SectorSize]...)
	s.enqueue(0x00, 0x00)
}

func (s *simCard) handleCommand(frame []byte) {
	cmd := frame[0] & 0x3F
	arg := binary.BigEndian.Uint32(frame[1:5])

	switch cmd {
	case cmdReadSingleBlock:
		s.enqueue(0x00)
		s.enqueueBlock(arg)

	case cmdReadMultipleBlock:
		s.enqueue(0x00)
		for a := arg; int(a) < s.sectorCount(); a++ {
			s.enqueueBlock(a)
		}

	case cmdStopTransmission:
		s.enqueue(0xFF, 0x00)

	case cmdWriteBlock:
		s.writeAddr = arg
		s.writeToken = 0
		s.awaitingToken = true
		s.enqueue(0x00)

	case cmdWriteMultipleBlock:
		s.writeAddr = arg
		s.writeToken = 0
		s.awaitingToken = true
		s.enqueue(0x00)

	case cmdSendCSD:
		s.enqueue(0x00, tokenStart)
		s.enqueue(s.csd[:]...)
		s.enqueue(0x00, 0x00)

	default:
		s.enqueue(0x00)
	}
}
