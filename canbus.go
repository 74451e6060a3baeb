package j1939

// CAN id bits shared by every transceiver backend. Bits 0-28 carry the
// 29 bit identifier, the top three bits are flags (SocketCAN layout).
const (
	// CANEFFFlag is bit 31 in CAN ID and means EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	CANEFFFlag = uint32(1 << 31)
	// CANRTRFlag is bit 30 in CAN ID and means RTR remote transmission request (1 = rtr frame)
	CANRTRFlag = uint32(1 << 30)
	// CANERRFlag is bit 29 in CAN ID and means ERR error message flag (0 = data frame, 1 = error message)
	CANERRFlag = uint32(1 << 29)
	// CANEFFMask is bitmask to get 0-28 bits belonging to the 29 bit identifier
	CANEFFMask = uint32(0x1FFFFFFF)
)

// CANFrame is the boundary record exchanged with a Transceiver. ID carries
// the 29 bit identifier plus the flag bits above.
type CANFrame struct {
	ID     uint32
	Length uint8 // 0-8
	Data   [8]byte
}

type CanBusHeader struct {
	PGN         uint32 `json:"pgn"`
	Priority    uint8  `json:"priority"`
	Source      uint8  `json:"source"`
	Destination uint8  `json:"destination"`
}

func (h CanBusHeader) Uint32() uint32 {
	canID := uint32(h.Source) // bit 0-7

	pf := uint8(h.PGN >> 8)
	if pf < 240 { // PDU1, destination address lives in bits 8-15
		canID |= uint32(h.Destination) << 8
		canID |= (h.PGN & 0x3FF00) << 8
	} else {
		canID |= h.PGN << 8 // bits 8-24
	}
	canID = canID | uint32(h.Priority&0x7)<<26 // bit 26,27,28
	return canID
}

// ParseCANID parses J1939 header fields from CANID (29 bits of 32 bit).
//
// PDU format byte below 240 means PDU1: the message is destination specific,
// the PDU specific byte is the destination address and the PGN low byte is
// zero. 240 and above means PDU2: broadcast, the PDU specific byte is part of
// the PGN.
func ParseCANID(canID uint32) CanBusHeader {
	result := CanBusHeader{
		Priority: uint8((canID >> 26) & 0x7), // bit 26,27,28
		Source:   uint8(canID),               // bit 0-7
	}
	ps := uint8(canID >> 8)         // bits 8-15
	pduFormat := uint8(canID >> 16) // bits 16-23
	rAndDP := uint8(canID>>24) & 3  // bits 24,25
	pgn := (uint32(rAndDP) << 16) + uint32(pduFormat)<<8
	if pduFormat < 240 {
		result.Destination = ps
		result.PGN = pgn
	} else {
		result.Destination = AddressGlobal // 0xff is broadcast to all
		result.PGN = pgn + uint32(ps)
	}
	return result
}
