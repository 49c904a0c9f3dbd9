package daemon

import (
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a counting admission gate. Acquisition never blocks: a caller
// that finds the gate full is turned away.
type Gate struct {
	capacity int32
	inUse    atomic.Int32
}

// NewGate returns a gate admitting up to capacity holders.
func NewGate(capacity int) *Gate {
	return &Gate{capacity: int32(capacity)}
}

// TryAcquire takes a slot if one is free.
func (g *Gate) TryAcquire() bool {
	for {
		n := g.inUse.Load()
		if n >= g.capacity {
			return false
		}
		if g.inUse.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a slot taken by TryAcquire.
func (g *Gate) Release() {
	g.inUse.Add(-1)
}

// InUse returns the number of held slots.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Activity tracks when the last message was accepted.
type Activity struct {
	mu   sync.Mutex
	last time.Time
}

// NewActivity returns a tracker whose clock starts now.
func NewActivity() *Activity {
	return &Activity{last: time.Now()}
}

// Touch records activity at the current time.
func (a *Activity) Touch() {
	a.mu.Lock()
	a.last = time.Now()
	a.mu.Unlock()
}

// Since returns the time elapsed since the last activity.
func (a *Activity) Since() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.last)
}
