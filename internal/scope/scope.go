// Package scope holds the oscilloscope domain types shared by the device,
// acquisition loop, controller and display bridge.
package scope

import (
	"time"
)

// BufferSize is the number of samples the firmware returns per acquisition.
const BufferSize = 500

// Voltage range of the Arduino ADC input, used as the default Y axis.
const (
	VoltageMin = 0.0
	VoltageMax = 5.0
)

const DefaultTimebase = "20 ms"

// SampleBuffer is one acquisition worth of samples in volts. It is not
// modified after the device returns it.
type SampleBuffer []float64

// TimeAxis holds the timestamp of every sample in a frame, in seconds.
type TimeAxis []float64

// NewTimeAxis builds the axis for the given timebase. The axis always has
// BufferSize entries and starts at 0.
func NewTimeAxis(tb Timebase) TimeAxis {
	secondsPerSample := tb.SecondsPerSample()

	axis := make(TimeAxis, BufferSize)
	for i := range axis {
		axis[i] = float64(i) * secondsPerSample
	}
	return axis
}

// Series pairs a time axis with the samples of the latest frame.
type Series struct {
	Time     TimeAxis
	Values   SampleBuffer
	Captured time.Time
}

func (s Series) Len() int {
	return len(s.Values)
}

// Axes are the plot bounds the display should use.
type Axes struct {
	XMin, XMax float64
	YMin, YMax float64
}

// AxesFor returns the bounds for a timebase: the whole frame on X and the
// ADC voltage range on Y.
func AxesFor(tb Timebase) Axes {
	return Axes{
		XMin: 0,
		XMax: BufferSize * tb.SecondsPerSample(),
		YMin: VoltageMin,
		YMax: VoltageMax,
	}
}

type TriggerSlope string

const (
	SlopeRising  TriggerSlope = "rising"
	SlopeFalling TriggerSlope = "falling"
)

// ParseTriggerSlope accepts "rising" or "falling" in any case.
func ParseTriggerSlope(s string) (TriggerSlope, error) {
	switch TriggerSlope(normalize(s)) {
	case SlopeRising:
		return SlopeRising, nil
	case SlopeFalling:
		return SlopeFalling, nil
	}
	return "", &InvalidTriggerSlopeError{Input: s}
}

// DeviceState is the configuration the controller keeps for the device. It
// survives disconnects so it can be pushed again on the next connect.
type DeviceState struct {
	Port         string
	Timebase     Timebase
	TriggerOn    bool
	TriggerSlope TriggerSlope
}

func DefaultDeviceState() DeviceState {
	tb, err := ParseTimebase(DefaultTimebase)
	if err != nil {
		panic(err)
	}
	return DeviceState{
		Timebase:     tb,
		TriggerSlope: SlopeRising,
	}
}

type AcquisitionMode int

const (
	Idle AcquisitionMode = iota
	SingleArmed
	Continuous
)

func (m AcquisitionMode) String() string {
	switch m {
	case Idle:
		return "idle"
	case SingleArmed:
		return "single"
	case Continuous:
		return "continuous"
	}
	return "unknown"
}
