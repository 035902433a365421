package mmcspi

// powerOn performs the power-up sequence (spec.md §4.3): at least 74
// clock cycles with CS deasserted so the card can enter native command
// mode, then GO_IDLE_STATE with CS asserted, polled up to ~8000 bytes
// for the idle response, then one more dummy byte with CS deasserted.
func powerOn(bus Bus) error {
	if err := bus.DeassertCS(); err != nil {
		return wrapErr("powerOn: deassert", err)
	}
	for i := 0; i < 10; i++ {
		if err := bus.TxByte(0xFF); err != nil {
			return wrapErr("powerOn: wake clock", err)
		}
	}

	if err := bus.AssertCS(); err != nil {
		return wrapErr("powerOn: assert", err)
	}

	frame := buildCommandFrame(cmdGoIdleState, 0)
	if err := bus.TxBuffer(frame[:]); err != nil {
		return wrapErr("powerOn: CMD0", err)
	}

	const maxPoll = 0x1FFF
	for n := 0; n < maxPoll; n++ {
		b, err := bus.RxByte()
		if err != nil {
			return wrapErr("powerOn: idle poll", err)
		}
		if b == 0x01 {
			break
		}
	}

	if err := bus.DeassertCS(); err != nil {
		return wrapErr("powerOn: deassert", err)
	}
	return bus.TxByte(0xFF)
}

// identify runs the identification sequence (spec.md §4.3, after
// power-on) and returns the resulting CardType, or 0 with an error if
// classification failed.
func identify(bus Bus) (CardType, error) {
	if err := bus.AssertCS(); err != nil {
		return 0, wrapErr("identify: assert", err)
	}
	defer func() {
		bus.DeassertCS()
		bus.TxByte(0xFF)
	}()

	r1, err := sendCommand(bus, cmdGoIdleState, 0)
	if err != nil {
		return 0, err
	}
	if r1 != 0x01 {
		return 0, ErrResponse
	}

	deadline := bus.Clock().Now().Add(initWaitTimeout)

	var cardType CardType

	r1, err = sendCommand(bus, cmdSendIfCond, 0x000001AA)
	if err != nil {
		return 0, err
	}

	if r1 == 0x01 {
		// SD v2+: read the R7 echo.
		var ocr [4]byte
		for i := range ocr {
			b, err := bus.RxByte()
			if err != nil {
				return 0, wrapErr("classify: R7", err)
			}
			ocr[i] = b
		}
		if ocr[2] != 0x01 || ocr[3] != 0xAA {
			return 0, ErrResponse
		}

		for {
			appR1, err := sendCommand(bus, cmdAppCmd, 0)
			if err != nil {
				return 0, err
			}
			opR1, err := sendCommand(bus, cmdSDSendOpCond, 1<<30)
			if err != nil {
				return 0, err
			}
			if appR1 <= 1 && opR1 == 0 {
				break
			}
			if expired(bus.Clock(), deadline) {
				return 0, ErrTimeout
			}
		}

		ocrR1, err := sendCommand(bus, cmdReadOCR, 0)
		if err != nil {
			return 0, err
		}
		if ocrR1 != 0 {
			return 0, ErrResponse
		}
		for i := range ocr {
			b, err := bus.RxByte()
			if err != nil {
				return 0, wrapErr("classify: OCR", err)
			}
			ocr[i] = b
		}
		cardType = SDv2
		if ocr[0]&0x40 != 0 {
			cardType |= BLOCK
		}
		return cardType, nil
	}

	// SD v1 or MMC: probe which.
	appR1, err := sendCommand(bus, cmdAppCmd, 0)
	if err != nil {
		return 0, err
	}
	opR1, err := sendCommand(bus, cmdSDSendOpCond, 0)
	if err != nil {
		return 0, err
	}
	if appR1 <= 1 && opR1 <= 1 {
		cardType = SDv1
	} else {
		cardType = MMC
	}

	for {
		var done bool
		if cardType == SDv1 {
			if _, err := sendCommand(bus, cmdAppCmd, 0); err != nil {
				return 0, err
			}
			opR1, err = sendCommand(bus, cmdSDSendOpCond, 0)
			if err != nil {
				return 0, err
			}
			done = opR1 == 0
		} else {
			opR1, err = sendCommand(bus, cmdSendOpCond, 0)
			if err != nil {
				return 0, err
			}
			done = opR1 == 0
		}
		if done {
			break
		}
		if expired(bus.Clock(), deadline) {
			return 0, ErrTimeout
		}
	}

	blR1, err := sendCommand(bus, cmdSetBlockLen, SectorSize)
	if err != nil {
		return 0, err
	}
	if blR1 != 0 {
		return 0, ErrResponse
	}

	return cardType, nil
}

// Initialize runs the power-on/classification sequence (spec.md §4.3)
// and returns the resulting status. If NODISK is already set it
// returns the current status unchanged. On failure, card type is left
// at 0, NOINIT remains set, and power is turned off so the next
// attempt restarts from a clean state.
func (c *Context) Initialize() Status {
	if c.getStatus()&NODISK != 0 {
		return c.getStatus()
	}

	if err := powerOn(c.bus); err != nil {
		c.setClassification(0)
		c.setPower(false)
		return c.getStatus()
	}
	c.setPower(true)

	cardType, err := identify(c.bus)
	if err != nil || cardType == 0 {
		c.setClassification(0)
		c.setPower(false)
		return c.getStatus()
	}

	c.setClassification(cardType)
	return c.getStatus()
}
