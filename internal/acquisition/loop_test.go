package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"sleepywoodpecker/goscope/internal/scope"
)

const testTimeout = 1 * time.Second

// gatedAcquirer blocks every acquisition until the test releases it
type gatedAcquirer struct {
	started chan struct{}
	release chan error
	calls   atomic.Int64
}

func newGatedAcquirer() *gatedAcquirer {
	return &gatedAcquirer{
		started: make(chan struct{}, 10),
		release: make(chan error),
	}
}

func (a *gatedAcquirer) AcquireSingle() (scope.SampleBuffer, error) {
	a.calls.Inc()
	a.started <- struct{}{}
	if err := <-a.release; err != nil {
		return nil, err
	}
	return make(scope.SampleBuffer, scope.BufferSize), nil
}

func startLoop(t *testing.T, a Acquirer) *Loop {
	t.Helper()
	l := NewLoop(a, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestSignalAcquiresOnce(t *testing.T) {
	a := newGatedAcquirer()
	l := startLoop(t, a)

	if l.State() != Waiting {
		t.Fatalf("initial state = %s", l.State())
	}
	if !l.Signal() {
		t.Fatal("signal on a waiting loop should arm it")
	}
	waitFor(t, a.started)
	if l.State() != Acquiring {
		t.Errorf("state = %s, want acquiring", l.State())
	}

	a.release <- nil
	result := waitFor(t, l.Results())
	if result.Err != nil || len(result.Samples) != scope.BufferSize {
		t.Fatalf("unexpected result %+v", result)
	}
	if l.Busy() {
		t.Error("loop should be waiting after publishing")
	}
	if l.Acquisitions() != 1 {
		t.Errorf("Acquisitions() = %d, want 1", l.Acquisitions())
	}
}

func TestSignalWhileAcquiringIsIgnored(t *testing.T) {
	a := newGatedAcquirer()
	l := startLoop(t, a)

	l.Signal()
	waitFor(t, a.started)

	if l.Signal() {
		t.Error("signal while acquiring must not arm")
	}
	if l.Signal() {
		t.Error("signal while acquiring must not arm")
	}

	a.release <- nil
	waitFor(t, l.Results())

	select {
	case <-a.started:
		t.Fatal("a second acquisition ran without a new signal")
	case <-time.After(50 * time.Millisecond):
	}
	if a.calls.Load() != 1 {
		t.Errorf("acquisitions = %d, want 1", a.calls.Load())
	}

	// the next signal after completion works
	if !l.Signal() {
		t.Fatal("signal after completion should arm")
	}
	waitFor(t, a.started)
	a.release <- nil
	waitFor(t, l.Results())
	if a.calls.Load() != 2 {
		t.Errorf("acquisitions = %d, want 2", a.calls.Load())
	}
}

func TestErrorIsPublishedAndLoopSurvives(t *testing.T) {
	a := newGatedAcquirer()
	l := startLoop(t, a)

	failure := &scope.AcquisitionError{Kind: scope.Timeout}
	l.Signal()
	waitFor(t, a.started)
	a.release <- failure

	result := waitFor(t, l.Results())
	if !errors.Is(result.Err, failure) {
		t.Fatalf("result error = %v", result.Err)
	}

	l.Signal()
	waitFor(t, a.started)
	a.release <- nil
	if result := waitFor(t, l.Results()); result.Err != nil {
		t.Fatalf("loop should keep working after an error: %v", result.Err)
	}
}

func TestRearmFromResultHandler(t *testing.T) {
	a := newGatedAcquirer()
	l := startLoop(t, a)

	l.Signal()
	for i := 0; i < 5; i++ {
		waitFor(t, a.started)
		a.release <- nil
		waitFor(t, l.Results())
		if i < 4 && !l.Signal() {
			t.Fatalf("re-arm %d failed", i)
		}
	}
	if l.Acquisitions() != 5 {
		t.Errorf("Acquisitions() = %d, want 5", l.Acquisitions())
	}
}
