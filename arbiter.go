package j1939

import (
	"time"

	"github.com/aldas/go-j1939-client/internal/syncutil"
	"github.com/sirupsen/logrus"
)

// BusArbiter tracks whether a BAM burst currently owns the outbound bus so
// our own transmissions do not interleave with it. Ownership is keyed by the
// reassembly session that acquired the bus; the deadline is a watchdog that
// self-heals the busy flag when an owner dies silently (BAM has no
// acknowledgement, so a sender that stops mid burst would otherwise hold the
// bus forever).
//
// The arbiter guards only the outbound bus against observed BAM traffic; it
// does not serialize our transmit attempts against each other, that is the
// hardware mutex in Controller.
type BusArbiter struct {
	mu *syncutil.TimedMutex

	busy     bool
	deadline time.Time
	owners   map[sessionKey]struct{}

	// watchdog is the minimum time the bus stays reserved after an acquire.
	watchdog    time.Duration
	lockTimeout time.Duration
	now         func() time.Time
	log         *logrus.Logger
}

func newBusArbiter(watchdog time.Duration, log *logrus.Logger) *BusArbiter {
	return &BusArbiter{
		mu:          syncutil.NewTimedMutex(),
		owners:      make(map[sessionKey]struct{}),
		watchdog:    watchdog,
		lockTimeout: hardwareLockTimeout,
		now:         time.Now,
		log:         log,
	}
}

// IsAvailable reports whether the outbound bus is free for our transmission.
// A busy state whose deadline has passed is force released here, with a
// warning, before reporting true. Failure to take the bus state lock within
// the bounded wait reads as unavailable for this decision.
func (a *BusArbiter) IsAvailable() bool {
	if !a.mu.TryLockTimeout(a.lockTimeout) {
		return false
	}
	defer a.mu.Unlock()

	if !a.busy {
		return true
	}
	if a.now().After(a.deadline) {
		a.log.Warn("BAM session timed out, releasing bus")
		a.busy = false
		a.owners = make(map[sessionKey]struct{})
		return true
	}
	return false
}

// Acquire marks the bus busy on behalf of key and extends the watchdog
// deadline to cover the announced packet count at the slowest allowed BAM
// cadence (200 ms per packet) plus setup slack.
func (a *BusArbiter) Acquire(key sessionKey, totalPackets uint16) {
	if !a.mu.TryLockTimeout(a.lockTimeout) {
		return
	}
	defer a.mu.Unlock()

	hold := time.Duration(totalPackets)*200*time.Millisecond + 500*time.Millisecond
	if hold < a.watchdog {
		hold = a.watchdog
	}
	a.busy = true
	a.deadline = a.now().Add(hold)
	a.owners[key] = struct{}{}
}

// Release drops key's ownership. The bus frees up once the last owner is
// gone.
func (a *BusArbiter) Release(key sessionKey) {
	if !a.mu.TryLockTimeout(a.lockTimeout) {
		return
	}
	defer a.mu.Unlock()

	delete(a.owners, key)
	if len(a.owners) == 0 {
		a.busy = false
	}
}
