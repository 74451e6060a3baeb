package j1939

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedTransfer pushes a complete BAM transfer for payload through the receive
// pipeline: one announce and ceil(len/7) data frames with wrapping sequence
// numbers.
func feedTransfer(c *Controller, session uint8, pgn uint32, src uint8, payload []byte) {
	packets := (len(payload) + 6) / 7
	c.Decode(tpcmAnnounce(session, uint16(len(payload)), uint8(packets), pgn, src))
	for seq := 1; seq <= packets; seq++ {
		offset := (seq - 1) * 7
		end := offset + 7
		if end > len(payload) {
			end = len(payload)
		}
		c.Decode(tpdt(session, uint8((seq-1)%15+1), payload[offset:end], src))
	}
}

func TestDecode_SingleFrame(t *testing.T) {
	var testCases = []struct {
		name   string
		when   CANFrame
		expect Message
	}{
		{
			name: "ok, PDU1 frame reports masked PGN",
			when: singleFrame(PGNExtra, 0x32, []byte{0x41, 0x42, 0x43}),
			expect: Message{
				PGN:         0xEF00,
				Sender:      0x32,
				SingleFrame: true,
				Data:        []byte{0x41, 0x42, 0x43},
			},
		},
		{
			name: "ok, PDU2 frame keeps full PGN",
			when: singleFrame(PGNSoftwareID, 0x48, []byte{0x01, 0x02}),
			expect: Message{
				PGN:         PGNSoftwareID,
				Sender:      0x48,
				SingleFrame: true,
				Data:        []byte{0x01, 0x02},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, sink, clock := newTestController()

			c.Decode(tc.when)

			tc.expect.Time = clock.Now()
			require.Len(t, sink.messages, 1)
			assert.Equal(t, tc.expect, sink.messages[0])
		})
	}
}

func TestDecode_DropsNonExtendedFrame(t *testing.T) {
	c, _, sink, _ := newTestController()

	frame := singleFrame(PGNSoftwareID, 0x48, []byte{0x01})
	frame.ID &= CANEFFMask // strip the extended id marker

	c.Decode(frame)

	assert.Empty(t, sink.messages)
}

func TestDecode_RequestIsIgnored(t *testing.T) {
	c, _, sink, _ := newTestController()

	c.Decode(singleFrame(PGNRequest, 0x48, []byte{0x00, 0xEE, 0x00}))

	assert.Empty(t, sink.messages)
}

func TestReceive_BAMReassembly(t *testing.T) {
	c, _, sink, clock := newTestController()
	payload := []byte("Hello, J1939 world!!!")
	require.Len(t, payload, 21)

	c.Decode(tpcmAnnounce(SessionA, 21, 3, PGNExtra, 0x48))
	assert.False(t, c.arbiter.IsAvailable(), "observed BAM must reserve the outbound bus")

	c.Decode(tpdt(SessionA, 1, payload[0:7], 0x48))
	c.Decode(tpdt(SessionA, 2, payload[7:14], 0x48))
	assert.Empty(t, sink.messages)

	c.Decode(tpdt(SessionA, 3, payload[14:21], 0x48))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, Message{
		Time:   clock.Now(),
		PGN:    PGNExtra,
		Sender: 0x48,
		Size:   21,
		Data:   payload,
	}, sink.messages[0])

	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live, "session must close on completion")
	assert.True(t, c.arbiter.IsAvailable(), "bus must release on completion")
}

func TestReceive_SequenceWrapPast15(t *testing.T) {
	c, _, sink, _ := newTestController()
	payload := bytes.Repeat([]byte{0xA5}, 120) // 18 data frames, sequence wraps 1..15,1,2,3

	feedTransfer(c, SessionB, PGNGroupMessage, 0x48, payload)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, uint16(120), sink.messages[0].Size)
	assert.Equal(t, payload, sink.messages[0].Data)
}

func TestReceive_OutOfOrderDestroysSession(t *testing.T) {
	c, _, sink, _ := newTestController()

	c.Decode(tpcmAnnounce(SessionA, 30, 5, PGNExtra, 0x48))
	c.Decode(tpdt(SessionA, 1, []byte{1, 2, 3, 4, 5, 6, 7}, 0x48))
	c.Decode(tpdt(SessionA, 3, []byte{8, 9, 10, 11, 12, 13, 14}, 0x48))

	assert.Empty(t, sink.messages, "no partial data may be emitted")
	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live)
	assert.True(t, c.arbiter.IsAvailable(), "bus ownership must release on protocol error")
}

func TestReceive_ZeroSequenceRejected(t *testing.T) {
	c, _, sink, _ := newTestController()

	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48))
	c.Decode(tpdt(SessionA, 0, []byte{1, 2, 3, 4, 5, 6, 7}, 0x48))

	// the session survives; the frame is dropped before the sequence check
	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.True(t, live)
	assert.Empty(t, sink.messages)
}

func TestReceive_UnknownSessionDataDropped(t *testing.T) {
	c, _, sink, _ := newTestController()

	c.Decode(tpdt(SessionC, 1, []byte{1, 2, 3, 4, 5, 6, 7}, 0x48))

	assert.Empty(t, sink.messages)
}

func TestReceive_InvalidSessionTagRejected(t *testing.T) {
	c, _, sink, _ := newTestController()

	c.Decode(tpcmAnnounce(4, 14, 2, PGNExtra, 0x48)) // 4 is not a valid tag
	c.Decode(tpdt(4, 1, []byte{1, 2, 3, 4, 5, 6, 7}, 0x48))
	c.Decode(tpdt(4, 2, []byte{8, 9, 10, 11, 12, 13, 14}, 0x48))

	assert.Empty(t, sink.messages)
	assert.True(t, c.arbiter.IsAvailable())
}

func TestReceive_ZeroSizeAnnounceRejected(t *testing.T) {
	c, _, _, _ := newTestController()

	c.Decode(tpcmAnnounce(SessionA, 0, 0, PGNExtra, 0x48))

	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live)
}

func TestReceive_OversizedAnnounceRejected(t *testing.T) {
	c, _, _, _ := newTestController()

	c.Decode(tpcmAnnounce(SessionA, TPDataMaxSize+1, 0xFF, PGNExtra, 0x48))

	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live)
	assert.True(t, c.arbiter.IsAvailable(), "rejected announce must not reserve the bus")
}

func TestReceive_AnnounceDerivesPacketCount(t *testing.T) {
	c, _, sink, _ := newTestController()
	payload := bytes.Repeat([]byte{0x42}, 21)

	// 0xFF packet count sentinel means derive from size
	c.Decode(tpcmAnnounce(SessionA, 21, 0xFF, PGNExtra, 0x48))
	for seq := 1; seq <= 3; seq++ {
		c.Decode(tpdt(SessionA, uint8(seq), payload[(seq-1)*7:seq*7], 0x48))
	}

	require.Len(t, sink.messages, 1)
	assert.Equal(t, uint16(21), sink.messages[0].Size)
}

func TestReceive_AnnounceRejectedWhileSessionLive(t *testing.T) {
	c, _, sink, _ := newTestController()
	payload := []byte("fourteen bytes") // 2 packets
	require.Len(t, payload, 14)

	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48))
	c.Decode(tpdt(SessionA, 1, payload[0:7], 0x48))

	// second announce for the same (session, source) must not reset the transfer
	c.Decode(tpcmAnnounce(SessionA, 70, 10, PGNGroupMessage, 0x48))

	c.Decode(tpdt(SessionA, 2, payload[7:14], 0x48))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, PGNExtra, sink.messages[0].PGN)
	assert.Equal(t, payload, sink.messages[0].Data)
}

func TestReceive_ConcurrentSessionsFromDifferentSources(t *testing.T) {
	c, _, sink, _ := newTestController()
	first := bytes.Repeat([]byte{0x11}, 14)
	second := bytes.Repeat([]byte{0x22}, 14)

	// same session tag from two sources interleaved; both must assemble
	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48))
	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x49))
	c.Decode(tpdt(SessionA, 1, first[0:7], 0x48))
	c.Decode(tpdt(SessionA, 1, second[0:7], 0x49))
	c.Decode(tpdt(SessionA, 2, second[7:14], 0x49))
	c.Decode(tpdt(SessionA, 2, first[7:14], 0x48))

	require.Len(t, sink.messages, 2)
	assert.Equal(t, second, sink.messages[0].Data)
	assert.Equal(t, uint8(0x49), sink.messages[0].Sender)
	assert.Equal(t, first, sink.messages[1].Data)
	assert.Equal(t, uint8(0x48), sink.messages[1].Sender)
}

func TestReceive_RTSOpensSessionWithoutBus(t *testing.T) {
	c, _, sink, _ := newTestController()
	payload := []byte("fourteen bytes")

	announce := tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48)
	announce.Data[0] = 0x21 | (SessionA&0x0F)<<4 // RTS control code

	c.Decode(announce)
	assert.True(t, c.arbiter.IsAvailable(), "RTS must not reserve the bus")

	c.Decode(tpdt(SessionA, 1, payload[0:7], 0x48))
	c.Decode(tpdt(SessionA, 2, payload[7:14], 0x48))

	require.Len(t, sink.messages, 1)
	assert.Equal(t, payload, sink.messages[0].Data)
}

func TestReceive_OverflowDiscardsSession(t *testing.T) {
	c, _, sink, _ := newTestController()

	// announced packet count larger than the size can hold
	c.Decode(tpcmAnnounce(SessionA, 10, 5, PGNExtra, 0x48))
	c.Decode(tpdt(SessionA, 1, []byte{1, 2, 3, 4, 5, 6, 7}, 0x48))
	c.Decode(tpdt(SessionA, 2, []byte{8, 9, 10}, 0x48))
	c.Decode(tpdt(SessionA, 3, []byte{11, 12, 13}, 0x48))

	assert.Empty(t, sink.messages)
	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live)
}

func TestReceive_StaleSessionEvictedAndReannounced(t *testing.T) {
	c, _, sink, clock := newTestController()
	payload := []byte("fourteen bytes")

	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48))
	c.Decode(tpdt(SessionA, 1, payload[0:7], 0x48))

	// sender goes silent past the session timeout
	clock.Advance(1100 * time.Millisecond)
	c.sessions.sweep(clock.Now())

	_, live := c.sessions.lookup(makeSessionKey(SessionA, 0x48))
	assert.False(t, live)
	assert.True(t, c.arbiter.IsAvailable(), "eviction must release the bus")

	// a fresh announce for the same key now succeeds
	feedTransfer(c, SessionA, PGNExtra, 0x48, payload)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, payload, sink.messages[0].Data)
}

func TestReceive_StaleSessionReapedByAnnounce(t *testing.T) {
	c, _, sink, clock := newTestController()
	payload := []byte("fourteen bytes")

	c.Decode(tpcmAnnounce(SessionA, 70, 10, PGNGroupMessage, 0x48))
	clock.Advance(1100 * time.Millisecond)

	// no sweep ran; the admissibility check reaps the stale entry itself
	feedTransfer(c, SessionA, PGNExtra, 0x48, payload)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, PGNExtra, sink.messages[0].PGN)
}

func TestReceive_SweepIsIdempotent(t *testing.T) {
	c, _, _, clock := newTestController()

	c.Decode(tpcmAnnounce(SessionA, 14, 2, PGNExtra, 0x48))
	c.Decode(tpcmAnnounce(SessionB, 14, 2, PGNExtra, 0x49))
	clock.Advance(1100 * time.Millisecond)

	now := clock.Now()
	c.sessions.sweep(now)
	after := len(c.sessions.entries)
	c.sessions.sweep(now)

	assert.Equal(t, 0, after)
	assert.Equal(t, after, len(c.sessions.entries))
}

func TestReceive_BoundedSessionMemory(t *testing.T) {
	c, _, sink, _ := newTestController()
	payload := bytes.Repeat([]byte{0x5A}, TPDataMaxSize)

	feedTransfer(c, SessionF, PGNGroupMessage, 0x48, payload)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, uint16(TPDataMaxSize), sink.messages[0].Size)
	assert.Len(t, sink.messages[0].Data, TPDataMaxSize)
}

func TestReceive_AbortForUnopenedSessionIsHarmless(t *testing.T) {
	c, _, sink, _ := newTestController()

	abort := tpcmAnnounce(SessionA, 0, 0, 0, 0x48)
	abort.Data[0] = 0xFF

	c.Decode(abort)

	assert.Empty(t, sink.messages)
	assert.True(t, c.arbiter.IsAvailable())
}
