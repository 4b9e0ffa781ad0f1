package acquisition

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/scope"
)

// Acquirer performs one blocking acquisition.
type Acquirer interface {
	AcquireSingle() (scope.SampleBuffer, error)
}

type State int32

const (
	Waiting State = iota
	Armed
	Acquiring
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Armed:
		return "armed"
	case Acquiring:
		return "acquiring"
	}
	return "unknown"
}

// Result is the outcome of one acquisition. Samples belong to the receiver.
type Result struct {
	Samples  scope.SampleBuffer
	Err      error
	Finished time.Time
}

// Loop runs acquisitions on its own goroutine, one per signal. It has no
// notion of single or continuous mode; whoever reads Results decides whether
// to signal again.
type Loop struct {
	acquirer     Acquirer
	logger       *zap.Logger
	arm          chan struct{}
	results      chan Result
	state        atomic.Int32
	acquisitions atomic.Uint64
	now          func() time.Time
}

func NewLoop(acquirer Acquirer, logger *zap.Logger) *Loop {
	return &Loop{
		acquirer: acquirer,
		logger:   logger,
		// at most one signal is ever outstanding, so neither channel blocks
		// the sender while the other side is alive
		arm:     make(chan struct{}, 1),
		results: make(chan Result, 1),
		now:     time.Now,
	}
}

// Signal arms the loop for one acquisition. It only takes effect while the
// loop is waiting; signalling an armed or acquiring loop does nothing and
// returns false.
func (l *Loop) Signal() bool {
	if !l.state.CompareAndSwap(int32(Waiting), int32(Armed)) {
		return false
	}

	l.arm <- struct{}{}
	return true
}

func (l *Loop) Results() <-chan Result {
	return l.results
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Busy reports whether an acquisition is armed or in progress.
func (l *Loop) Busy() bool {
	return l.State() != Waiting
}

// Acquisitions is the number of acquisitions performed so far.
func (l *Loop) Acquisitions() uint64 {
	return l.acquisitions.Load()
}

// Run blocks until ctx is done. An acquisition already in progress is not
// interrupted; its result is dropped if nobody is left to receive it.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("[acquisition] loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("[acquisition] received shutdown signal")
			return
		case <-l.arm:
		}

		l.state.Store(int32(Acquiring))
		samples, err := l.acquirer.AcquireSingle()
		count := l.acquisitions.Inc()
		result := Result{Samples: samples, Err: err, Finished: l.now()}

		if err != nil {
			l.logger.Warn("[acquisition] acquisition failed", zap.Error(err), zap.Uint64("acquisition", count))
		} else {
			l.logger.Debug("[acquisition] frame acquired", zap.Uint64("acquisition", count), zap.Int("samples", len(samples)))
		}

		// back to waiting before publishing, so the receiver can re-arm
		// straight from its result handler
		l.state.Store(int32(Waiting))

		select {
		case l.results <- result:
		case <-ctx.Done():
			l.logger.Info("[acquisition] received shutdown signal")
			return
		}
	}
}
