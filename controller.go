package j1939

import (
	"io"
	"time"

	"github.com/aldas/go-j1939-client/internal/syncutil"
	"github.com/sirupsen/logrus"
)

// DefaultSourceAddress is the source address used when Config leaves it zero.
const DefaultSourceAddress = uint8(0x32)

// hardwareLockTimeout bounds every transceiver and bus state lock
// acquisition. An acquisition that does not succeed within this window is
// skipped and retried on the next tick.
const hardwareLockTimeout = 100 * time.Millisecond

// Config is configuration for a Controller. Zero values fall back to the
// defaults listed on each field.
type Config struct {
	// SourceAddress is our node address, the low byte of every emitted CAN
	// id. Default 0x32.
	SourceAddress uint8
	// Priority for emitted frames (0-7). Default 6.
	Priority uint8
	// SessionTimeout evicts reassembly sessions with no TP.CM/TP.DT
	// activity for this long. Default 1s.
	SessionTimeout time.Duration
	// BusBusyWatchdog is the minimum hold time of the outbound bus after a
	// BAM announce before the arbiter force releases it. Default 2s.
	BusBusyWatchdog time.Duration
	// InterFramePacing is the pause between BAM data frames. Default 50ms,
	// within the 50-200ms cadence J1939-21 allows.
	InterFramePacing time.Duration
	// PostAnnounceDelay is the pause between the BAM announce and the first
	// data frame. Default 10ms.
	PostAnnounceDelay time.Duration
	// SendRetryCount is how many times one frame is attempted before the
	// send (and for BAM the whole burst) is abandoned. Default 3.
	SendRetryCount int
	// SendRetrySpacing is the pause between attempts. Default 10ms.
	SendRetrySpacing time.Duration
	// Logger receives protocol warnings. Defaults to a logger that
	// discards everything.
	Logger *logrus.Logger
}

// Controller is the J1939-21 data link / transport protocol engine. It
// decodes incoming CAN frames into PGN messages, reassembles BAM transfers
// with up to six concurrent transfers per source address, and transmits
// outgoing messages as single frames or BAM bursts while keeping our
// transmissions off the bus during observed BAM traffic.
//
// The Controller owns the session table and the bus state. The transceiver
// is shared by the receive and transmit paths under the hardware mutex,
// held for one transaction at a time.
type Controller struct {
	cfg         Config
	transceiver Transceiver
	sink        MessageSink
	log         *logrus.Logger

	hw       *syncutil.TimedMutex
	arbiter  *BusArbiter
	sessions *sessionTable

	// interrupts is the RX interrupt event queue feeding the receive task.
	interrupts chan struct{}

	sessionIdxMu syncutil.Mutex
	sessionIdx   int

	now       func() time.Time
	sleepFunc func(timeout time.Duration)
}

// NewController creates a Controller with default configuration.
func NewController(transceiver Transceiver, sink MessageSink) *Controller {
	return NewControllerWithConfig(transceiver, sink, Config{})
}

// NewControllerWithConfig creates a Controller with the given config.
func NewControllerWithConfig(transceiver Transceiver, sink MessageSink, config Config) *Controller {
	if config.SourceAddress == 0 {
		config.SourceAddress = DefaultSourceAddress
	}
	if config.Priority == 0 {
		config.Priority = 6
	}
	if config.SessionTimeout == 0 {
		config.SessionTimeout = 1 * time.Second
	}
	if config.BusBusyWatchdog == 0 {
		config.BusBusyWatchdog = 2 * time.Second
	}
	if config.InterFramePacing == 0 {
		config.InterFramePacing = 50 * time.Millisecond
	}
	if config.PostAnnounceDelay == 0 {
		config.PostAnnounceDelay = 10 * time.Millisecond
	}
	if config.SendRetryCount == 0 {
		config.SendRetryCount = 3
	}
	if config.SendRetrySpacing == 0 {
		config.SendRetrySpacing = 10 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = discardLogger()
	}

	c := &Controller{
		cfg:         config,
		transceiver: transceiver,
		sink:        sink,
		log:         config.Logger,

		hw:         syncutil.NewTimedMutex(),
		interrupts: make(chan struct{}, 10),

		now: time.Now,
		sleepFunc: func(timeout time.Duration) {
			time.Sleep(timeout)
		},
	}
	c.arbiter = newBusArbiter(config.BusBusyWatchdog, config.Logger)
	c.sessions = newSessionTable(config.SessionTimeout, c.arbiter, config.Logger)
	return c
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Initialize resets the transceiver, configures the given bitrate and joins
// the bus.
func (c *Controller) Initialize(bitrateKbps uint32) error {
	if err := c.transceiver.Reset(); err != nil {
		return err
	}
	if err := c.transceiver.SetBitrate(bitrateKbps); err != nil {
		return err
	}
	return c.transceiver.SetNormalMode()
}

// Interrupt wakes the receive task. Safe to call from any goroutine; the host
// application wires it to the transceiver RX interrupt line. Events past the
// queue capacity are dropped, the pending ones already cover the drain.
func (c *Controller) Interrupt() {
	select {
	case c.interrupts <- struct{}{}:
	default:
	}
}

// Arbiter exposes the bus arbiter, mainly so applications can check
// availability before queueing large transfers.
func (c *Controller) Arbiter() *BusArbiter {
	return c.arbiter
}

// nextSessionTag rotates through the valid session tag pool. Controller
// scoped, so independent controllers in one process do not share the
// rotation.
func (c *Controller) nextSessionTag() uint8 {
	c.sessionIdxMu.Lock()
	defer c.sessionIdxMu.Unlock()

	tag := sessionPool[c.sessionIdx]
	c.sessionIdx = (c.sessionIdx + 1) % len(sessionPool)
	return tag
}
