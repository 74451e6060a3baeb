package j1939

import (
	"errors"
	"sync"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

// testClock is a manually advanced clock so tests never depend on wall time.
type testClock struct {
	current time.Time
}

func newTestClock(sec int64) *testClock {
	return &testClock{current: utcTime(sec)}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

// captureSink records every message the pipeline emits. Safe for use from a
// running receive task.
type captureSink struct {
	mu       sync.Mutex
	messages []Message
}

func (s *captureSink) OnMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of everything captured so far.
func (s *captureSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.messages...)
}

var errSendFailed = errors.New("send failed")

// scriptTransceiver records sent frames and serves queued ones, with an
// optional number of send failures to exercise retry paths.
type scriptTransceiver struct {
	sent    []CANFrame
	queue   []CANFrame
	cleared int
	// failSends makes this many SendFrame calls fail before succeeding.
	failSends int
}

func (t *scriptTransceiver) Reset() error            { return nil }
func (t *scriptTransceiver) SetBitrate(uint32) error { return nil }
func (t *scriptTransceiver) SetNormalMode() error    { return nil }
func (t *scriptTransceiver) ClearRXInterrupts()      { t.cleared++ }
func (t *scriptTransceiver) CheckReceive() bool      { return len(t.queue) > 0 }

func (t *scriptTransceiver) ReadFrame() (CANFrame, error) {
	if len(t.queue) == 0 {
		return CANFrame{}, ErrNoFrame
	}
	frame := t.queue[0]
	t.queue = t.queue[1:]
	return frame, nil
}

func (t *scriptTransceiver) SendFrame(frame CANFrame) error {
	if t.failSends > 0 {
		t.failSends--
		return errSendFailed
	}
	t.sent = append(t.sent, frame)
	return nil
}

// newTestController wires a Controller to a scriptTransceiver and captureSink
// with a stubbed clock and no-op sleep. Warnings go to a null logger.
func newTestController() (*Controller, *scriptTransceiver, *captureSink, *testClock) {
	transceiver := &scriptTransceiver{}
	sink := &captureSink{}
	logger, _ := logrustest.NewNullLogger()

	c := NewControllerWithConfig(transceiver, sink, Config{Logger: logger})
	clock := newTestClock(1665488842)
	c.now = clock.Now
	c.arbiter.now = clock.Now
	c.sessions.now = clock.Now
	c.sleepFunc = func(time.Duration) {}
	return c, transceiver, sink, clock
}
