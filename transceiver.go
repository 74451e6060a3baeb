package j1939

import "errors"

// ErrNoFrame is returned by Transceiver.ReadFrame when no received frame is
// pending.
var ErrNoFrame = errors.New("no frame available")

// Transceiver is the CAN controller the protocol engine drives. Backends wrap
// the actual hardware: an SPI attached controller, a SocketCAN interface or
// the in-memory LoopbackBus. Implementations do not need to be goroutine
// safe; the Controller serializes access behind its hardware mutex and holds
// it for a single transaction at a time.
type Transceiver interface {
	// Reset puts the controller into its power-on state.
	Reset() error
	// SetBitrate configures the bus speed in kbit/s.
	SetBitrate(bitrateKbps uint32) error
	// SetNormalMode leaves configuration mode and joins the bus.
	SetNormalMode() error
	// CheckReceive reports whether at least one received frame is pending.
	CheckReceive() bool
	// ReadFrame pops the next pending frame. Returns ErrNoFrame when there
	// is nothing to read.
	ReadFrame() (CANFrame, error)
	SendFrame(frame CANFrame) error
	// ClearRXInterrupts acknowledges the receive interrupt source so the
	// next frame can raise it again.
	ClearRXInterrupts()
}
