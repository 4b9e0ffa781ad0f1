// Package bridge is the state the display layer renders from. It holds no
// acquisition logic: the controller sets values, the UI reads them and
// subscribes to changes.
package bridge

import (
	"slices"
	"sync"

	"sleepywoodpecker/goscope/internal/scope"
)

type Property string

const (
	Connected    Property = "connected"
	Running      Property = "running"
	TriggerOn    Property = "trigger_on"
	TriggerSlope Property = "trigger_slope"
	Timebase     Property = "timebase"
	FPS          Property = "fps"
	Ports        Property = "ports"
	Axes         Property = "axes"
	Error        Property = "error"
	Series       Property = "series"
)

// Change is sent to subscribers after a property changes. Value holds the
// new value with the property's Go type.
type Change struct {
	Property Property
	Value    any
}

// State is a copy of every value except the series.
type State struct {
	Connected    bool
	Running      bool
	TriggerOn    bool
	TriggerSlope scope.TriggerSlope
	Timebase     string
	FPS          float64
	Ports        []string
	Axes         scope.Axes
	Error        string
	Frames       uint64
}

type subscriber struct {
	id int
	fn func(Change)
}

type Bridge struct {
	mu     sync.RWMutex
	state  State
	series scope.Series

	// changes waiting for delivery, in mutation order; guarded by mu. Only
	// one caller delivers at a time, so a subscriber may call a setter and
	// its change is queued behind the one being delivered.
	pending    []Change
	delivering bool

	subsMu      sync.Mutex
	subscribers []subscriber
	nextID      int
}

func New() *Bridge {
	return &Bridge{}
}

// Subscribe registers fn for every change. fn runs on the goroutine that is
// delivering changes, normally the one that made the change, and must not
// call back into whoever owns that goroutine. fn may call the bridge's
// setters; those changes are delivered after fn returns.
func (b *Bridge) Subscribe(fn func(Change)) (cancel func()) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, fn: fn})

	return func() {
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		b.subscribers = slices.DeleteFunc(b.subscribers, func(s subscriber) bool { return s.id == id })
	}
}

func (b *Bridge) notify(c Change) {
	b.subsMu.Lock()
	subs := slices.Clone(b.subscribers)
	b.subsMu.Unlock()

	for _, s := range subs {
		s.fn(c)
	}
}

// enqueue must be called with mu held. It reports whether the caller should
// deliver the queue.
func (b *Bridge) enqueue(c Change) bool {
	b.pending = append(b.pending, c)
	if b.delivering {
		return false
	}
	b.delivering = true
	return true
}

// deliver notifies subscribers until the queue is empty.
func (b *Bridge) deliver() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.delivering = false
			b.mu.Unlock()
			return
		}
		c := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		b.notify(c)
	}
}

// set applies mutate under the state lock and notifies if it reported a
// change.
func (b *Bridge) set(property Property, mutate func(s *State) (any, bool)) {
	b.mu.Lock()
	value, changed := mutate(&b.state)
	start := changed && b.enqueue(Change{Property: property, Value: value})
	b.mu.Unlock()

	if start {
		b.deliver()
	}
}

func (b *Bridge) SetConnected(connected bool) {
	b.set(Connected, func(s *State) (any, bool) {
		changed := s.Connected != connected
		s.Connected = connected
		return connected, changed
	})
}

func (b *Bridge) SetRunning(running bool) {
	b.set(Running, func(s *State) (any, bool) {
		changed := s.Running != running
		s.Running = running
		return running, changed
	})
}

func (b *Bridge) SetTriggerOn(on bool) {
	b.set(TriggerOn, func(s *State) (any, bool) {
		changed := s.TriggerOn != on
		s.TriggerOn = on
		return on, changed
	})
}

func (b *Bridge) SetTriggerSlope(slope scope.TriggerSlope) {
	b.set(TriggerSlope, func(s *State) (any, bool) {
		changed := s.TriggerSlope != slope
		s.TriggerSlope = slope
		return slope, changed
	})
}

func (b *Bridge) SetTimebase(timebase string) {
	b.set(Timebase, func(s *State) (any, bool) {
		changed := s.Timebase != timebase
		s.Timebase = timebase
		return timebase, changed
	})
}

func (b *Bridge) SetFPS(fps float64) {
	b.set(FPS, func(s *State) (any, bool) {
		changed := s.FPS != fps
		s.FPS = fps
		return fps, changed
	})
}

func (b *Bridge) SetPorts(ports []string) {
	ports = slices.Clone(ports)
	b.set(Ports, func(s *State) (any, bool) {
		changed := !slices.Equal(s.Ports, ports)
		s.Ports = ports
		return slices.Clone(ports), changed
	})
}

func (b *Bridge) SetAxes(axes scope.Axes) {
	b.set(Axes, func(s *State) (any, bool) {
		changed := s.Axes != axes
		s.Axes = axes
		return axes, changed
	})
}

// SetError publishes the latest error message. An empty string clears it.
func (b *Bridge) SetError(message string) {
	b.set(Error, func(s *State) (any, bool) {
		changed := s.Error != message
		s.Error = message
		return message, changed
	})
}

// UpdateSeries replaces the frame on display. It always notifies, even when
// the samples happen to be identical.
func (b *Bridge) UpdateSeries(series scope.Series) {
	b.mu.Lock()
	b.series = series
	b.state.Frames++
	start := b.enqueue(Change{Property: Series, Value: series})
	b.mu.Unlock()

	if start {
		b.deliver()
	}
}

// Series returns the latest frame. Callers must treat its slices as read only.
func (b *Bridge) Series() scope.Series {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.series
}

func (b *Bridge) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.state
	s.Ports = slices.Clone(b.state.Ports)
	return s
}

func (b *Bridge) Connected() bool { return b.Snapshot().Connected }
func (b *Bridge) Running() bool   { return b.Snapshot().Running }
func (b *Bridge) FPS() float64    { return b.Snapshot().FPS }
