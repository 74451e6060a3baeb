//go:build deadlock

package syncutil

import "github.com/sasha-s/go-deadlock"

// Mutex wraps deadlock.Mutex when built with -tags=deadlock.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex when built with -tags=deadlock.
type RWMutex struct {
	deadlock.RWMutex
}
