// internal/admission/timeout.go
package admission

import (
	"sync"
	"sync/atomic"
	"time"
)

// AcquireTimeout attempts to lock mu, giving up after timeout. It returns
// true if the caller now holds the lock.
//
// Racing a blocking Lock against a timer is hazardous: the Lock can succeed
// after the caller has already given up, leaving the lock held by nobody.
// AcquireTimeout runs the attempt in its own goroutine and settles the race
// with a single compare-and-swap. If the timer wins, the attempt is marked
// abandoned and, should the Lock later succeed, the goroutine releases it
// immediately (calling abandoned first, if non-nil). The lock is therefore
// never orphaned and never double-released. If the Lock wins the race with
// the timer, the caller holds the lock and true is returned even though the
// timer fired.
func AcquireTimeout(mu sync.Locker, timeout time.Duration, abandoned func()) bool {
	var settled atomic.Bool
	won := make(chan struct{})

	go func() {
		mu.Lock()
		if settled.CompareAndSwap(false, true) {
			close(won)
			return
		}
		// The caller gave up while we were waiting. Hand the lock straight
		// back so it is never held by nobody.
		if abandoned != nil {
			abandoned()
		}
		mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-won:
		return true
	case <-timer.C:
		if settled.CompareAndSwap(false, true) {
			return false
		}
		// The acquire settled between the timer firing and our CAS: the
		// lock is ours after all.
		<-won
		return true
	}
}
