package analytics

import (
	"sync"
	"time"
)

// Timings is the start/finish bookkeeping shared by providers. It is safe for
// concurrent use.
type Timings struct {
	mu     sync.Mutex
	now    func() time.Time
	starts map[string]timing
}

type timing struct {
	at    time.Time
	props Properties
}

func NewTimings() *Timings {
	return NewTimingsWithClock(time.Now)
}

func NewTimingsWithClock(now func() time.Time) *Timings {
	return &Timings{now: now, starts: map[string]timing{}}
}

// Start marks name as started now. Restarting a running timer resets it.
func (t *Timings) Start(name string, props Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.starts[name] = timing{at: t.now(), props: merge(nil, props)}
}

// Stop removes the timer for name and returns its start properties and the
// elapsed time.
func (t *Timings) Stop(name string) (Properties, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	started, ok := t.starts[name]
	if !ok {
		return nil, 0, false
	}
	delete(t.starts, name)
	return started.props, t.now().Sub(started.at), true
}

// Finish stops the timer for name and returns props merged over the start
// properties with PropertyTime set to the elapsed seconds.
func (t *Timings) Finish(name string, props Properties) (Properties, bool) {
	startProps, elapsed, ok := t.Stop(name)
	if !ok {
		return nil, false
	}

	out := merge(startProps, props)
	if out == nil {
		out = Properties{}
	}
	out[PropertyTime] = elapsed.Seconds()
	return out, true
}

func (t *Timings) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.starts = map[string]timing{}
}
