package timing

import "time"

// boundedMutex is a mutex whose acquisition can give up after a deadline.
// The sampler takes it unconditionally; readers use TryLockFor so a busy
// sampler never stalls them for long.
type boundedMutex struct {
	ch chan struct{}
}

func newBoundedMutex() boundedMutex {
	return boundedMutex{ch: make(chan struct{}, 1)}
}

func (m boundedMutex) Lock()   { m.ch <- struct{}{} }
func (m boundedMutex) Unlock() { <-m.ch }

// TryLockFor acquires the lock, waiting at most d.
func (m boundedMutex) TryLockFor(d time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}
