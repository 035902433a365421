package mmcspi

// Status returns the current status bitset (spec.md §6).
func (c *Context) Status() Status {
	return c.getStatus()
}

// sectorAddress translates a logical sector number to the address
// argument a command frame should carry: block-addressed cards (SDHC/
// SDXC) use the sector number directly, byte-addressed cards (MMC,
// SD v1, standard-capacity SD v2) multiply by the fixed 512-byte
// sector size (spec.md §4.3).
func (c *Context) sectorAddress(sector uint32) uint32 {
	if c.getCardType()&BLOCK != 0 {
		return sector
	}
	return sector * SectorSize
}

// Read reads count sectors starting at sector into buf, which must be
// at least count*SectorSize bytes (spec.md §4.3, §6).
func (c *Context) Read(buf []byte, sector uint32, count uint32) Result {
	if count == 0 {
		return PARERR
	}
	if len(buf) < int(count)*SectorSize {
		return PARERR
	}
	if c.getStatus()&NOINIT != 0 {
		return NOTRDY
	}

	addr := c.sectorAddress(sector)

	if err := c.bus.AssertCS(); err != nil {
		return ERROR
	}
	defer c.finishTransaction()

	var ok bool
	if count == 1 {
		r1, err := sendCommand(c.bus, cmdReadSingleBlock, addr)
		if err == nil && r1 == 0 {
			ok = readDataBlock(c.bus, buf[:SectorSize]) == nil
		}
	} else {
		r1, err := sendCommand(c.bus, cmdReadMultipleBlock, addr)
		if err == nil && r1 == 0 {
			ok = true
			remaining := count
			off := 0
			for remaining > 0 {
				if readDataBlock(c.bus, buf[off:off+SectorSize]) != nil {
					ok = false
					break
				}
				off += SectorSize
				remaining--
			}
			sendCommand(c.bus, cmdStopTransmission, 0)
		}
	}

	if !ok {
		return ERROR
	}
	return OK
}

// Write writes count sectors starting at sector from buf (spec.md
// §4.3, §6).
func (c *Context) Write(buf []byte, sector uint32, count uint32) Result {
	if count == 0 {
		return PARERR
	}
	if len(buf) < int(count)*SectorSize {
		return PARERR
	}
	if c.getStatus()&NOINIT != 0 {
		return NOTRDY
	}
	if c.getStatus()&PROTECT != 0 {
		return WRPRT
	}

	addr := c.sectorAddress(sector)

	if err := c.bus.AssertCS(); err != nil {
		return ERROR
	}
	defer c.finishTransaction()

	var ok bool
	if count == 1 {
		r1, err := sendCommand(c.bus, cmdWriteBlock, addr)
		if err == nil && r1 == 0 {
			ok = writeDataBlock(c.bus, buf[:SectorSize], tokenStart) == nil
		}
	} else {
		if c.getCardType()&SDv1 != 0 {
			sendCommand(c.bus, cmdAppCmd, 0)
			sendCommand(c.bus, cmdSetBlockCount, count)
		}
		r1, err := sendCommand(c.bus, cmdWriteMultipleBlock, addr)
		if err == nil && r1 == 0 {
			ok = true
			remaining := count
			off := 0
			for remaining > 0 {
				if writeDataBlock(c.bus, buf[off:off+SectorSize], tokenMultiWrite) != nil {
					ok = false
					break
				}
				off += SectorSize
				remaining--
			}
			if writeDataBlock(c.bus, nil, tokenStopTran) != nil {
				ok = false
			}
		}
	}

	if !ok {
		return ERROR
	}
	return OK
}

// finishTransaction deasserts CS and clocks one dummy byte, the
// "idle" tail every command and data transaction ends with (spec.md
// §3, §4.3).
func (c *Context) finishTransaction() {
	c.bus.DeassertCS()
	c.bus.RxByte()
}

// Ioctl implements the control/inquiry surface (spec.md §4.3, §6).
// buf is interpreted per ctrl, the same way a conventional FatFs
// diskio layer treats its void* buffer.
func (c *Context) Ioctl(ctrl IoctlCmd, buf []byte) Result {
	if ctrl == CTRL_POWER {
		return c.ioctlPower(buf)
	}

	if c.getStatus()&NOINIT != 0 {
		return NOTRDY
	}

	if err := c.bus.AssertCS(); err != nil {
		return ERROR
	}
	defer c.finishTransaction()

	switch ctrl {
	case CTRL_SYNC:
		b, err := readyWait(c.bus)
		if err != nil || b != 0xFF {
			return ERROR
		}
		return OK

	case GET_SECTOR_COUNT:
		csd, err := c.readCSD()
		if err != nil || len(buf) < 4 {
			return ERROR
		}
		putUint32(buf, csd.SectorCount())
		return OK

	case GET_SECTOR_SIZE:
		if len(buf) < 2 {
			return ERROR
		}
		buf[0] = byte(SectorSize & 0xFF)
		buf[1] = byte(SectorSize >> 8)
		return OK

	case GET_BLOCK_SIZE:
		csd, err := c.readCSD()
		if err != nil || len(buf) < 1 {
			return ERROR
		}
		buf[0] = csd.EraseSectorSizeInBlocks()
		return OK

	case CTRL_TRIM:
		return PARERR

	case MMC_GET_CSD:
		if len(buf) < 16 {
			return ERROR
		}
		csd, err := c.readCSD()
		if err != nil {
			return ERROR
		}
		copy(buf, csd[:])
		return OK

	case MMC_GET_CID:
		if len(buf) < 16 {
			return ERROR
		}
		r1, err := sendCommand(c.bus, cmdSendCID, 0)
		if err != nil || r1 != 0 {
			return ERROR
		}
		if readDataBlock(c.bus, buf[:16]) != nil {
			return ERROR
		}
		return OK

	case MMC_GET_OCR:
		if len(buf) < 4 {
			return ERROR
		}
		r1, err := sendCommand(c.bus, cmdReadOCR, 0)
		if err != nil || r1 != 0 {
			return ERROR
		}
		for i := 0; i < 4; i++ {
			b, err := c.bus.RxByte()
			if err != nil {
				return ERROR
			}
			buf[i] = b
		}
		return OK

	default:
		return PARERR
	}
}

func (c *Context) ioctlPower(buf []byte) Result {
	if len(buf) < 1 {
		return PARERR
	}
	switch PowerCmd(buf[0]) {
	case PowerOff:
		c.setPower(false)
		return OK
	case PowerOn:
		if err := powerOn(c.bus); err != nil {
			return ERROR
		}
		c.setPower(true)
		return OK
	case PowerQuery:
		if len(buf) < 2 {
			return PARERR
		}
		if c.getPower() {
			buf[1] = 1
		} else {
			buf[1] = 0
		}
		return OK
	default:
		return PARERR
	}
}

// readCSD issues SEND_CSD and returns the decoded register. Callers
// must already hold CS asserted.
func (c *Context) readCSD() (CSD, error) {
	r1, err := sendCommand(c.bus, cmdSendCSD, 0)
	if err != nil {
		return CSD{}, err
	}
	if r1 != 0 {
		return CSD{}, ErrResponse
	}
	var csd CSD
	if err := readDataBlock(c.bus, csd[:]); err != nil {
		return CSD{}, err
	}
	return csd, nil
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// SectorCount is a typed convenience wrapper over
// Ioctl(GET_SECTOR_COUNT, ...).
func (c *Context) SectorCount() (uint32, error) {
	var buf [4]byte
	if res := c.Ioctl(GET_SECTOR_COUNT, buf[:]); res != OK {
		return 0, &Error{op: "SectorCount", err: errFromResult(res)}
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// SectorSize returns the fixed SectorSize, the same value
// Ioctl(GET_SECTOR_SIZE, ...) reports. It does not call Ioctl, touch
// the bus, or depend on the card being initialized.
func (c *Context) SectorSize() int {
	return SectorSize
}

// ReadCSD is a typed convenience wrapper over Ioctl(MMC_GET_CSD, ...).
func (c *Context) ReadCSD() (CSD, error) {
	var csd CSD
	if res := c.Ioctl(MMC_GET_CSD, csd[:]); res != OK {
		return CSD{}, &Error{op: "ReadCSD", err: errFromResult(res)}
	}
	return csd, nil
}

// ReadCID is a typed convenience wrapper over Ioctl(MMC_GET_CID, ...).
func (c *Context) ReadCID() (CID, error) {
	var raw [16]byte
	if res := c.Ioctl(MMC_GET_CID, raw[:]); res != OK {
		return CID{}, &Error{op: "ReadCID", err: errFromResult(res)}
	}
	return DecodeCID(raw), nil
}

// ReadOCR is a typed convenience wrapper over Ioctl(MMC_GET_OCR, ...).
func (c *Context) ReadOCR() (OCR, error) {
	var ocr OCR
	if res := c.Ioctl(MMC_GET_OCR, ocr[:]); res != OK {
		return OCR{}, &Error{op: "ReadOCR", err: errFromResult(res)}
	}
	return ocr, nil
}

// PowerOn is a typed convenience wrapper over Ioctl(CTRL_POWER, {on}).
func (c *Context) PowerOn() error {
	buf := [2]byte{byte(PowerOn), 0}
	if res := c.Ioctl(CTRL_POWER, buf[:]); res != OK {
		return &Error{op: "PowerOn", err: errFromResult(res)}
	}
	return nil
}

// PowerOff is a typed convenience wrapper over Ioctl(CTRL_POWER, {off}).
func (c *Context) PowerOff() error {
	buf := [2]byte{byte(PowerOff), 0}
	if res := c.Ioctl(CTRL_POWER, buf[:]); res != OK {
		return &Error{op: "PowerOff", err: errFromResult(res)}
	}
	return nil
}

// PowerStatus is a typed convenience wrapper over
// Ioctl(CTRL_POWER, {query}).
func (c *Context) PowerStatus() (bool, error) {
	buf := [2]byte{byte(PowerQuery), 0}
	if res := c.Ioctl(CTRL_POWER, buf[:]); res != OK {
		return false, &Error{op: "PowerStatus", err: errFromResult(res)}
	}
	return buf[1] != 0, nil
}

func errFromResult(r Result) error {
	switch r {
	case ERROR:
		return ErrResponse
	case NOTRDY:
		return ErrNotInitialized
	case WRPRT:
		return errWriteProtected
	case PARERR:
		return errInvalidArgument
	default:
		return nil
	}
}
