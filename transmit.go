package j1939

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusBusy is returned when the outbound bus stayed reserved by BAM
	// traffic past all back-off attempts.
	ErrBusBusy = errors.New("bus is busy with BAM session")
	// ErrFrameTooLarge is returned by SendSingleFrame for payloads over 8 bytes.
	ErrFrameTooLarge = errors.New("single frame message cannot exceed 8 bytes")
	// ErrPayloadTooLarge is returned by SendMultiFrame for payloads over TPDataMaxSize.
	ErrPayloadTooLarge = errors.New("multi frame message cannot exceed 1785 bytes")
	// ErrTransceiverBusy is returned when the hardware mutex could not be
	// taken within its bounded wait.
	ErrTransceiverBusy = errors.New("transceiver is busy")
	// ErrEmptyPayload is returned for zero length sends, which the
	// transport cannot announce.
	ErrEmptyPayload = errors.New("empty payload")
)

// Send transmits data to dst, picking the single frame path for payloads of
// up to 8 bytes and a BAM burst otherwise.
func (c *Controller) Send(pgn uint32, dst uint8, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if len(data) <= 8 {
		return c.SendSingleFrame(pgn, dst, data)
	}
	return c.SendMultiFrame(pgn, data)
}

// SendSingleFrame transmits a payload of up to 8 bytes as one CAN frame with
// the configured priority and source address. The frame is sent once; the
// transceiver result decides success.
func (c *Controller) SendSingleFrame(pgn uint32, dst uint8, data []byte) error {
	if len(data) > 8 {
		return ErrFrameTooLarge
	}
	if !c.awaitBus(5, 100*time.Millisecond) {
		c.log.Warn("bus still busy after retry, aborting single frame send")
		return ErrBusBusy
	}

	// The PDU specific byte comes from the PGN low byte; for the PDU1
	// groups this stack surfaces that is the group extension downstream
	// consumers expect, not dst.
	id := uint32(c.cfg.Priority&0x7)<<26 |
		uint32(uint8(pgn>>8))<<16 |
		uint32(uint8(pgn))<<8 |
		uint32(c.cfg.SourceAddress)

	frame := CANFrame{ID: id | CANEFFFlag, Length: uint8(len(data))}
	copy(frame.Data[:], data)

	return c.sendFrame(frame)
}

// SendMultiFrame transmits data as a BAM burst: one announce on TP.CM
// followed by paced data frames on TP.DT, all broadcast. There is no
// acknowledgement; pacing and the receive side watchdogs are the only
// protection slow receivers get.
func (c *Controller) SendMultiFrame(pgn uint32, data []byte) error {
	size := len(data)
	if size == 0 {
		return ErrEmptyPayload
	}
	if size > TPDataMaxSize {
		return ErrPayloadTooLarge
	}
	if !c.awaitBus(10, 200*time.Millisecond) {
		c.log.Warn("bus still busy after extended retry, aborting multi frame send")
		return ErrBusBusy
	}

	totalPackets := (size + tpPacketDataSize - 1) / tpPacketDataSize
	session := c.nextSessionTag()

	announce := CANFrame{
		ID: CanBusHeader{
			PGN:         PGNTPCM,
			Priority:    c.cfg.Priority,
			Source:      c.cfg.SourceAddress,
			Destination: AddressGlobal,
		}.Uint32() | CANEFFFlag,
		Length: 8,
	}
	announce.Data[0] = 0x20 | (session&0x0F)<<4
	announce.Data[1] = uint8(size)
	announce.Data[2] = uint8(size >> 8)
	if totalPackets > 255 {
		announce.Data[3] = 0xFF
	} else {
		announce.Data[3] = uint8(totalPackets)
	}
	announce.Data[4] = 0xFF
	announce.Data[5] = uint8(pgn)
	announce.Data[6] = uint8(pgn >> 8)
	announce.Data[7] = uint8(pgn >> 16)

	if err := c.sendFrameRetry(announce); err != nil {
		return fmt.Errorf("failed to send BAM announce: %w", err)
	}
	c.sleepFunc(c.cfg.PostAnnounceDelay)

	dataID := CanBusHeader{
		PGN:         PGNTPDT,
		Priority:    c.cfg.Priority,
		Source:      c.cfg.SourceAddress,
		Destination: AddressGlobal,
	}.Uint32() | CANEFFFlag

	for seq := 1; seq <= totalPackets; seq++ {
		offset := (seq - 1) * tpPacketDataSize
		n := tpPacketDataSize
		if offset+n > size {
			n = size - offset
		}

		frame := CANFrame{ID: dataID, Length: 8}
		frame.Data[0] = uint8((seq-1)%15+1) | (session&0x0F)<<4
		copy(frame.Data[1:1+n], data[offset:offset+n])
		for i := 1 + n; i < 8; i++ {
			frame.Data[i] = 0xFF
		}

		if err := c.sendFrameRetry(frame); err != nil {
			return fmt.Errorf("failed to send data packet %d: %w", seq, err)
		}
		c.sleepFunc(c.cfg.InterFramePacing)
	}
	return nil
}

// awaitBus polls the arbiter until the outbound bus is free, sleeping wait
// between up to attempts re-checks. Reports whether the bus became free.
func (c *Controller) awaitBus(attempts int, wait time.Duration) bool {
	if c.arbiter.IsAvailable() {
		return true
	}
	c.log.Warn("bus is busy with BAM session, delaying send")
	for i := 0; i < attempts; i++ {
		c.sleepFunc(wait)
		if c.arbiter.IsAvailable() {
			return true
		}
	}
	return false
}

// sendFrame pushes one frame through the transceiver under the hardware
// mutex, held for just this transaction so the receive task can interleave.
func (c *Controller) sendFrame(frame CANFrame) error {
	if !c.hw.TryLockTimeout(hardwareLockTimeout) {
		return ErrTransceiverBusy
	}
	defer c.hw.Unlock()
	return c.transceiver.SendFrame(frame)
}

// sendFrameRetry sends one frame with the configured per-frame retry budget.
// Exhausting it fails the caller; a BAM burst is aborted rather than resumed.
func (c *Controller) sendFrameRetry(frame CANFrame) error {
	var err error
	for attempt := 0; attempt < c.cfg.SendRetryCount; attempt++ {
		if attempt > 0 {
			c.sleepFunc(c.cfg.SendRetrySpacing)
		}
		if err = c.sendFrame(frame); err == nil {
			return nil
		}
		c.log.Warnf("failed to send frame, retry %d: %v", attempt, err)
	}
	return err
}
