package processing

import (
	"time"
)

// FpsEstimator smooths the time between captured frames. It is not safe for
// concurrent use; the controller owns it.
type FpsEstimator struct {
	secondsPerFrame float64
	lastCapture     time.Time
}

func NewFpsEstimator(now time.Time) *FpsEstimator {
	e := &FpsEstimator{}
	e.Reset(now)
	return e
}

// Reset starts a new run at one frame per second.
func (e *FpsEstimator) Reset(now time.Time) {
	e.secondsPerFrame = 1
	e.lastCapture = now
}

// Capture records a completed frame.
func (e *FpsEstimator) Capture(now time.Time) {
	e.secondsPerFrame = 0.9*now.Sub(e.lastCapture).Seconds() + 0.1*e.secondsPerFrame
	e.lastCapture = now
}

func (e *FpsEstimator) SecondsPerFrame() float64 {
	return e.secondsPerFrame
}

func (e *FpsEstimator) FPS() float64 {
	if e.secondsPerFrame <= 0 {
		return 0
	}
	return 1 / e.secondsPerFrame
}
