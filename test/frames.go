package test_test

import (
	j1939 "github.com/aldas/go-j1939-client"
)

// TPCMAnnounce builds a TP.CM BAM announce frame as src would broadcast it.
func TPCMAnnounce(session uint8, size uint16, packets uint8, pgn uint32, src uint8) j1939.CANFrame {
	frame := j1939.CANFrame{
		ID:     0x18EC0000 | uint32(j1939.AddressGlobal)<<8 | uint32(src) | j1939.CANEFFFlag,
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

// TPDT builds a TP.DT data frame carrying up to 7 payload bytes, padded with
// 0xFF the way senders pad short last frames.
func TPDT(session uint8, sequence uint8, payload []byte, src uint8) j1939.CANFrame {
	frame := j1939.CANFrame{
		ID:     0x18EB0000 | uint32(j1939.AddressGlobal)<<8 | uint32(src) | j1939.CANEFFFlag,
		Length: 8,
	}
	frame.Data[0] = (session&0x0F)<<4 | sequence&0x0F
	n := copy(frame.Data[1:], payload)
	for i := 1 + n; i < 8; i++ {
		frame.Data[i] = 0xFF
	}
	return frame
}

// SingleFrame builds a plain data frame on the given PGN.
func SingleFrame(pgn uint32, src uint8, payload []byte) j1939.CANFrame {
	frame := j1939.CANFrame{
		ID: uint32(6)<<26 | (pgn&0xFFFF)<<8 | uint32(src) | j1939.CANEFFFlag,
	}
	frame.Length = uint8(copy(frame.Data[:], payload))
	return frame
}
