package j1939

// TP.CM control codes, low nibble of the first payload byte. The high nibble
// carries the session tag. An abort is the whole byte 0xFF.
const (
	tpControlBAM uint8 = 0x00
	tpControlRTS uint8 = 0x01
	tpAbort      uint8 = 0xFF
)

// Decode runs one received CAN frame through the receive pipeline. Frames
// without the extended identifier marker are silently dropped. Transport
// protocol frames feed the reassembly machinery, Request frames are ignored,
// everything else goes to the sink as a single frame message.
func (c *Controller) Decode(frame CANFrame) {
	if frame.ID&CANEFFFlag == 0 {
		return
	}
	header := ParseCANID(frame.ID & CANEFFMask)

	switch header.PGN {
	case PGNTPCM:
		c.parseTPCM(frame, header.Source)
	case PGNTPDT:
		c.parseTPDT(frame, header.Source)
	case PGNRequest:
		// Request frames carry no payload for us to surface; the
		// application layer has not asked for them.
	default:
		data := make([]byte, frame.Length)
		copy(data, frame.Data[:frame.Length])
		c.sink.OnMessage(Message{
			Time:        c.now(),
			PGN:         header.PGN,
			Sender:      header.Source,
			SingleFrame: true,
			Data:        data,
		})
	}
}

// parseTPCM handles Transport Protocol Connection Management frames: BAM
// announces open a session and reserve the outbound bus, RTS announces open a
// session without touching the bus (CTS flow control is out of scope, the
// data frames are absorbed the same way), aborts tear the session down.
func (c *Controller) parseTPCM(frame CANFrame, src uint8) {
	control := frame.Data[0]
	sessionNumber := (control >> 4) & 0x0F
	key := makeSessionKey(sessionNumber, src)

	if control == tpAbort {
		c.sessions.close(key)
		return
	}

	if !c.sessions.admissible(sessionNumber, src) {
		c.log.Warnf("invalid or busy session: %s (0x%X) from src 0x%02X",
			SessionName(sessionNumber), sessionNumber, src)
		return
	}
	c.sessions.sweep(c.now())

	switch control & 0x0F {
	case tpControlBAM, tpControlRTS:
		size := uint16(frame.Data[1]) | uint16(frame.Data[2])<<8
		totalPackets := uint16(frame.Data[3])
		pgn := uint32(frame.Data[5]) | uint32(frame.Data[6])<<8 | uint32(frame.Data[7])<<16

		if size == 0 || size > TPDataMaxSize {
			c.log.Warnf("invalid announce size: %d", size)
			return
		}
		calculated := (size + tpPacketDataSize - 1) / tpPacketDataSize
		if totalPackets == 0 || totalPackets == 0xFF {
			totalPackets = calculated
		}

		if control&0x0F == tpControlBAM {
			c.arbiter.Acquire(key, totalPackets)
		}
		c.sessions.open(key, &reassemblySession{
			pgn:           pgn,
			source:        src,
			sessionNumber: sessionNumber,
			totalSize:     size,
			totalPackets:  totalPackets,
			data:          make([]byte, 0, size),
			lastActivity:  c.now(),
		})
	default:
		// CTS, EndOfMsgAck and vendor control codes belong to flow
		// controlled transport and are not handled.
	}
}

// parseTPDT handles Transport Protocol Data Transfer frames. Sequence numbers
// must follow (packetsReceived % 15) + 1 exactly; a gap or repeat destroys
// the session. No buffering, no reordering.
func (c *Controller) parseTPDT(frame CANFrame, src uint8) {
	first := frame.Data[0]
	sequence := first & 0x0F
	sessionNumber := (first >> 4) & 0x0F
	key := makeSessionKey(sessionNumber, src)

	if sequence == 0 {
		c.log.Warnf("invalid sequence number: %d", sequence)
		return
	}

	s, ok := c.sessions.lookup(key)
	if !ok {
		c.log.Warnf("received TP.DT for unknown session: %s (0x%X)",
			SessionName(sessionNumber), sessionNumber)
		return
	}
	s.lastActivity = c.now()

	if expected := s.expectedSequence(); sequence != expected {
		c.log.Warnf("out of sequence packet: got %d, expected %d", sequence, expected)
		c.sessions.close(key)
		return
	}

	start := int(s.packetsReceived) * tpPacketDataSize
	if start >= int(s.totalSize) {
		c.log.Warn("data position exceeds message size")
		c.sessions.close(key)
		return
	}
	n := int(s.totalSize) - start
	if n > tpPacketDataSize {
		n = tpPacketDataSize
	}
	if len(s.data) < start+n {
		s.data = append(s.data, make([]byte, start+n-len(s.data))...)
	}
	copy(s.data[start:start+n], frame.Data[1:1+n])
	s.packetsReceived++

	if s.packetsReceived >= s.totalPackets {
		c.sink.OnMessage(Message{
			Time:   c.now(),
			PGN:    s.pgn,
			Sender: s.source,
			Size:   s.totalSize,
			Data:   s.data,
		})
		c.sessions.close(key)
	}
}
