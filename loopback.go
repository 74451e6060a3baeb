package j1939

import (
	"github.com/aldas/go-j1939-client/internal/syncutil"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations. Frames sent
// through one endpoint become readable on every other endpoint of the same
// bus. It stands in for real hardware wherever a Transceiver is expected.
type LoopbackBus struct {
	mu        syncutil.RWMutex
	endpoints []*LoopbackTransceiver
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Open attaches a new endpoint to the bus.
func (b *LoopbackBus) Open() *LoopbackTransceiver {
	ep := &LoopbackTransceiver{
		bus:    b,
		frames: make(chan CANFrame, 256),
	}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()
	return ep
}

// LoopbackTransceiver is one endpoint of a LoopbackBus implementing
// Transceiver. Mode and bitrate calls are accepted and ignored.
type LoopbackTransceiver struct {
	bus    *LoopbackBus
	frames chan CANFrame
}

func (t *LoopbackTransceiver) Reset() error            { return nil }
func (t *LoopbackTransceiver) SetBitrate(uint32) error { return nil }
func (t *LoopbackTransceiver) SetNormalMode() error    { return nil }
func (t *LoopbackTransceiver) ClearRXInterrupts()      {}
func (t *LoopbackTransceiver) CheckReceive() bool      { return len(t.frames) > 0 }

// ReadFrame pops the next pending frame without blocking.
func (t *LoopbackTransceiver) ReadFrame() (CANFrame, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	default:
		return CANFrame{}, ErrNoFrame
	}
}

// SendFrame broadcasts the frame to every other endpoint on the bus. An
// endpoint whose buffer is full misses the frame, like a controller whose
// receive buffers overran.
func (t *LoopbackTransceiver) SendFrame(frame CANFrame) error {
	t.bus.mu.RLock()
	targets := make([]*LoopbackTransceiver, 0, len(t.bus.endpoints))
	for _, ep := range t.bus.endpoints {
		if ep != t {
			targets = append(targets, ep)
		}
	}
	t.bus.mu.RUnlock()

	for _, target := range targets {
		select {
		case target.frames <- frame:
		default:
		}
	}
	return nil
}
