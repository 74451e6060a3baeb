package j1939

import (
	"time"
)

// PGNs this stack knows by name. Transport protocol PGNs (TP.CM, TP.DT,
// Request) are handled by the receive pipeline itself, the rest are
// application level groups surfaced to users.
const (
	PGNSingleFrameTest uint32 = 0xEF02
	PGNPeerToPeer      uint32 = 0xEF00
	PGNGroupMessage    uint32 = 0xEF10
	PGNExtra           uint32 = 0xEF20
	PGNSoftwareID      uint32 = 0xFEDA
	PGNComponentID     uint32 = 0xFEEB
	PGNTPCM            uint32 = 0xEC00
	PGNTPDT            uint32 = 0xEB00
	PGNRequest         uint32 = 0xEA00
	PGNAck             uint32 = 0xE800
)

// AddressGlobal is broadcast to all (0xff)
const AddressGlobal = uint8(0xFF)

// TPDataMaxSize is maximum size of a multi frame (BAM) transfer total length.
//
// A BAM data frame carries 7 payload bytes and the announce frame counts
// packets in a single byte, so 255 * 7 = 1785 bytes is the most a transfer
// can announce.
const TPDataMaxSize = 1785

// tpPacketDataSize is payload bytes carried by one TP.DT frame.
const tpPacketDataSize = 7

// Session tags the transport protocol uses. A 4 bit tag in TP.CM/TP.DT
// frames distinguishes concurrent transfers from the same source address.
// Only these six values are valid on the wire.
const (
	SessionA uint8 = 2
	SessionB uint8 = 3
	SessionC uint8 = 6
	SessionD uint8 = 7
	SessionE uint8 = 10
	SessionF uint8 = 11
)

// sessionPool is the order outbound multi frame sends rotate through tags.
var sessionPool = [...]uint8{SessionA, SessionB, SessionC, SessionD, SessionE, SessionF}

// IsValidSession reports whether session is one of the six tags transfers may
// use on the wire.
func IsValidSession(session uint8) bool {
	switch session {
	case SessionA, SessionB, SessionC, SessionD, SessionE, SessionF:
		return true
	}
	return false
}

// SessionName returns a short human readable name for a session tag.
func SessionName(session uint8) string {
	switch session {
	case SessionA:
		return "A"
	case SessionB:
		return "B"
	case SessionC:
		return "C"
	case SessionD:
		return "D"
	case SessionE:
		return "E"
	case SessionF:
		return "F"
	}
	return "Unknown"
}

// PGNName returns a human readable description for known PGNs.
func PGNName(pgn uint32) string {
	switch pgn {
	case PGNRequest:
		return "Request"
	case PGNTPCM:
		return "TP_CM"
	case PGNTPDT:
		return "TP_DT"
	case PGNAck:
		return "Acknowledgment"
	case PGNComponentID:
		return "Component Identification"
	case PGNSoftwareID:
		return "Software Identification"
	case PGNPeerToPeer:
		return "Peer to peer"
	case PGNGroupMessage:
		return "Broadcast"
	case PGNExtra:
		return "extra PGN"
	case PGNSingleFrameTest:
		return "Single Frame Test PGN"
	}
	return "Unknown PGN"
}

// Message is a completed inbound unit: either a fully reassembled multi frame
// transfer or a single frame received outside the transport protocol.
type Message struct {
	// Time is when the last frame of the message was decoded. Filled by this library.
	Time time.Time

	PGN    uint32
	Sender uint8
	// SingleFrame marks messages that arrived as one CAN frame. Size is
	// meaningless for those; Data length is the frame DLC.
	SingleFrame bool
	// Size is the announced transfer length for reassembled messages.
	Size uint16
	Data []byte
}

// MessageSink consumes completed inbound messages. The default implementation
// is RecordWriter; applications plug their own to route messages elsewhere.
type MessageSink interface {
	OnMessage(msg Message)
}
