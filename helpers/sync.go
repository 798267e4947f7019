package helpers

import (
	"sync"
	"time"
)

func WithLock(l sync.Locker, f func()) {
	l.Lock()
	defer l.Unlock()
	f()
}

// SleepStop waits d or until stopch closed. Returns false if stopped.
func SleepStop(d time.Duration, stopch <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stopch:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopch:
		return false
	}
}
