// Package lifecycle holds shared process state: whether the gateway is
// draining for shutdown, and how many dispatched calls are still being
// tracked.
package lifecycle

import "sync/atomic"

type Lifecycle struct {
	draining  atomic.Bool
	liveCalls atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// CallStarted and CallFinished bracket one tracked call's polling loop.
func (l *Lifecycle) CallStarted() {
	if l == nil {
		return
	}
	l.liveCalls.Add(1)
}

func (l *Lifecycle) CallFinished() {
	if l == nil {
		return
	}
	l.liveCalls.Add(-1)
}

func (l *Lifecycle) LiveCalls() int64 {
	if l == nil {
		return 0
	}
	return l.liveCalls.Load()
}
