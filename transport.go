package j1939

import (
	"time"

	"github.com/sirupsen/logrus"
)

// sessionKey identifies one reassembly session: the 4 bit session tag from
// the transport frames packed with the 8 bit source address. Transfers from
// different sources may reuse the same tag concurrently.
type sessionKey uint16

func makeSessionKey(session uint8, source uint8) sessionKey {
	return sessionKey(uint16(session)<<8 | uint16(source))
}

func (k sessionKey) session() uint8 { return uint8(k >> 8) }
func (k sessionKey) source() uint8  { return uint8(k) }

// reassemblySession is one in-flight multi frame transfer, created by a TP.CM
// announce and fed by TP.DT data frames until the announced packet count is
// reached.
type reassemblySession struct {
	pgn           uint32
	source        uint8
	sessionNumber uint8
	// totalSize is the announced payload length in bytes.
	totalSize uint16
	// totalPackets is the announced fragment count, derived from totalSize
	// when the announce carried the 0x00/0xFF sentinel.
	totalPackets    uint16
	packetsReceived uint16
	// data grows on demand up to totalSize; the prefix covered by
	// packetsReceived*7 (bounded by totalSize) is committed.
	data         []byte
	lastActivity time.Time
}

// expectedSequence is the TP.DT sequence field the session must see next.
// Sequence numbers wrap 1..15, so it is 1 again right after each group of 15
// packets.
func (s *reassemblySession) expectedSequence() uint8 {
	return uint8(s.packetsReceived%15) + 1
}

// sessionTable holds active reassembly sessions. It is accessed only from the
// receive task and needs no lock of its own; bus ownership side effects go
// through the arbiter.
type sessionTable struct {
	entries map[sessionKey]*reassemblySession

	timeout time.Duration
	arbiter *BusArbiter
	now     func() time.Time
	log     *logrus.Logger
}

func newSessionTable(timeout time.Duration, arbiter *BusArbiter, log *logrus.Logger) *sessionTable {
	return &sessionTable{
		entries: make(map[sessionKey]*reassemblySession),
		timeout: timeout,
		arbiter: arbiter,
		now:     time.Now,
		log:     log,
	}
}

// open installs a session for key, overwriting any prior entry (announce
// wins).
func (t *sessionTable) open(key sessionKey, s *reassemblySession) {
	t.entries[key] = s
}

func (t *sessionTable) lookup(key sessionKey) (*reassemblySession, bool) {
	s, ok := t.entries[key]
	return s, ok
}

// close removes the entry for key and drops its bus ownership.
func (t *sessionTable) close(key sessionKey) {
	delete(t.entries, key)
	t.arbiter.Release(key)
}

// sweep evicts every session that has been silent longer than the session
// timeout and releases its bus ownership. Safe to call repeatedly; a second
// sweep with the same clock finds nothing left to do.
func (t *sessionTable) sweep(now time.Time) {
	for key, s := range t.entries {
		if now.Sub(s.lastActivity) <= t.timeout {
			continue
		}
		t.log.Warnf("removing stale session %s (0x%X) from src 0x%02X",
			SessionName(key.session()), key.session(), key.source())
		t.close(key)
	}
}

// admissible reports whether a new announce for (session, source) may open a
// session: the tag must be one of the valid six and no live entry for the key
// may exist. A stale entry is reaped here so the new announce proceeds. A
// live entry rejects the announce; latest-announce-wins is deliberately not
// implemented.
func (t *sessionTable) admissible(session uint8, source uint8) bool {
	if !IsValidSession(session) {
		return false
	}
	key := makeSessionKey(session, source)
	s, ok := t.entries[key]
	if !ok {
		return true
	}
	if t.now().Sub(s.lastActivity) > t.timeout {
		t.close(key)
		return true
	}
	return false
}
