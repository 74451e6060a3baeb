package syncutil

import "time"

// TimedMutex is a mutex whose acquisition can give up after a deadline. The
// J1939 engine treats a lock that cannot be taken within its bounded wait as
// a failed hardware transaction to be retried on the next tick, which plain
// sync.Mutex cannot express.
type TimedMutex struct {
	token chan struct{}
}

func NewTimedMutex() *TimedMutex {
	m := &TimedMutex{token: make(chan struct{}, 1)}
	m.token <- struct{}{}
	return m
}

// TryLockTimeout takes the lock, giving up after timeout. Reports whether the
// lock was taken.
func (m *TimedMutex) TryLockTimeout(timeout time.Duration) bool {
	select {
	case <-m.token:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.token:
		return true
	case <-t.C:
		return false
	}
}

// Lock takes the lock, waiting as long as it takes.
func (m *TimedMutex) Lock() {
	<-m.token
}

func (m *TimedMutex) Unlock() {
	select {
	case m.token <- struct{}{}:
	default:
		panic("syncutil: Unlock of unlocked TimedMutex")
	}
}
