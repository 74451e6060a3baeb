package j1939

import "time"

// utcTime creates instance of time in UTC timezone this helps avoid problems running tests with different timezone computers
func utcTime(sec int64) time.Time {
	return time.Unix(sec, 0).In(time.UTC)
}

// tpcmAnnounce builds a TP.CM BAM announce frame as src would broadcast it.
func tpcmAnnounce(session uint8, size uint16, packets uint8, pgn uint32, src uint8) CANFrame {
	frame := CANFrame{
		ID:     0x18EC0000 | uint32(AddressGlobal)<<8 | uint32(src) | CANEFFFlag,
		Length: 8,
		Data: [8]byte{
			(session & 0x0F) << 4,
			uint8(size), uint8(size >> 8),
			packets,
			0xFF,
			uint8(pgn), uint8(pgn >> 8), uint8(pgn >> 16),
		},
	}
	return frame
}

// tpdt builds a TP.DT data frame carrying up to 7 payload bytes, padded with
// 0xFF the way senders pad short last frames.
func tpdt(session uint8, sequence uint8, payload []byte, src uint8) CANFrame {
	frame := CANFrame{
		ID:     0x18EB0000 | uint32(AddressGlobal)<<8 | uint32(src) | CANEFFFlag,
		Length: 8,
	}
	frame.Data[0] = (session&0x0F)<<4 | sequence&0x0F
	n := copy(frame.Data[1:], payload)
	for i := 1 + n; i < 8; i++ {
		frame.Data[i] = 0xFF
	}
	return frame
}

// singleFrame builds a plain data frame on the given PGN.
func singleFrame(pgn uint32, src uint8, payload []byte) CANFrame {
	frame := CANFrame{
		ID: uint32(6)<<26 | (pgn&0xFFFF)<<8 | uint32(src) | CANEFFFlag,
	}
	frame.Length = uint8(copy(frame.Data[:], payload))
	return frame
}
