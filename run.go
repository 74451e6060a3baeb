package j1939

import (
	"context"
	"time"
)

// interruptWait is how long the receive task blocks on the interrupt queue
// before falling back to polling the transceiver directly.
const interruptWait = 100 * time.Millisecond

// receiveTick is the pause between receive iterations.
const receiveTick = 10 * time.Millisecond

// Run is the receive task. It blocks until ctx is done, waking on Interrupt
// events to drain every pending hardware frame, or every interruptWait to
// poll for one. After each iteration stale sessions are swept.
//
// Run must not be started more than once; the session table is owned by this
// goroutine and is not locked.
func (c *Controller) Run(ctx context.Context) error {
	timer := time.NewTimer(interruptWait)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interruptWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.interrupts:
			c.drainFrames()
		case <-timer.C:
			c.pollFrame()
		}
		c.sleepFunc(receiveTick)
		c.sessions.sweep(c.now())
	}
}

// drainFrames empties the transceiver receive buffers and acknowledges the
// interrupt, all under one hardware mutex hold. A mutex timeout skips the
// drain; the pending interrupt or the next poll picks the frames up.
func (c *Controller) drainFrames() {
	if !c.hw.TryLockTimeout(hardwareLockTimeout) {
		return
	}
	defer c.hw.Unlock()

	for c.transceiver.CheckReceive() {
		frame, err := c.transceiver.ReadFrame()
		if err != nil {
			break
		}
		c.Decode(frame)
	}
	c.transceiver.ClearRXInterrupts()
}

// pollFrame reads at most one pending frame. This is the fallback for missed
// or unwired interrupts.
func (c *Controller) pollFrame() {
	if !c.hw.TryLockTimeout(hardwareLockTimeout) {
		return
	}
	defer c.hw.Unlock()

	if !c.transceiver.CheckReceive() {
		return
	}
	frame, err := c.transceiver.ReadFrame()
	if err != nil {
		return
	}
	c.Decode(frame)
	c.transceiver.ClearRXInterrupts()
}

// SendRequest is one queued outbound application message.
type SendRequest struct {
	PGN         uint32
	Destination uint8
	Data        []byte
	// Queued is stamped by RunSender when left zero; requests older than
	// the queue timeout are dropped.
	Queued time.Time
}

// sendQueueTimeout is how long a queued request may wait for the bus before
// being dropped.
const sendQueueTimeout = 5 * time.Second

// sendQueueRetryTick is the pause between flush attempts while requests are
// pending.
const sendQueueRetryTick = 50 * time.Millisecond

// RunSender is the transmit task. It consumes outbound requests, sends them
// immediately when the bus allows, and parks the rest for retry until the
// queue timeout expires. Blocks until ctx is done or requests is closed.
func (c *Controller) RunSender(ctx context.Context, requests <-chan SendRequest) error {
	pending := make([]SendRequest, 0, 8)
	timer := time.NewTimer(sendQueueRetryTick)
	defer timer.Stop()

	for {
		var tick <-chan time.Time
		if len(pending) > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(sendQueueRetryTick)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			if req.Queued.IsZero() {
				req.Queued = c.now()
			}
			if err := c.Send(req.PGN, req.Destination, req.Data); err != nil {
				c.log.Warnf("send failed, queueing for retry: %v", err)
				pending = append(pending, req)
			}
		case <-tick:
			kept := pending[:0]
			for _, req := range pending {
				if c.now().Sub(req.Queued) > sendQueueTimeout {
					c.log.Warn("message in queue timed out, removing")
					continue
				}
				if !c.arbiter.IsAvailable() {
					kept = append(kept, req)
					continue
				}
				if err := c.Send(req.PGN, req.Destination, req.Data); err != nil {
					kept = append(kept, req)
				}
			}
			pending = kept
		}
	}
}
