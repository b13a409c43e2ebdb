package lifecycle

import "sync/atomic"

// Lifecycle holds process state shared across handlers. Once draining, the
// server refuses new realtime sessions and reports not ready.
type Lifecycle struct {
	draining atomic.Bool
}

// Drain switches to draining. It reports whether this call made the switch.
func (l *Lifecycle) Drain() bool {
	if l == nil {
		return false
	}
	return l.draining.CompareAndSwap(false, true)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
