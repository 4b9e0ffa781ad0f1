package scope

import (
	"math"
	"strconv"
	"strings"
)

// SamplesPerDivision is the number of samples the firmware takes across one
// horizontal division.
const SamplesPerDivision = 10

// The firmware takes the timebase as a positive 32 bit count of microseconds
// per division.
const (
	MinTimebaseMicroseconds = 1
	MaxTimebaseMicroseconds = math.MaxInt32
)

type TimeUnit string

const (
	Milliseconds TimeUnit = "ms"
	Microseconds TimeUnit = "us"
)

var unitFactors = map[TimeUnit]float64{
	Milliseconds: 1e-3,
	Microseconds: 1e-6,
}

// Timebase is the horizontal scale, expressed as time per division.
type Timebase struct {
	Value float64
	Unit  TimeUnit
}

// ParseTimebase reads strings like "20 ms", "100 us" or "5ms".
func ParseTimebase(s string) (Timebase, error) {
	in := normalize(s)

	var number string
	var unit TimeUnit
	for u := range unitFactors {
		if strings.HasSuffix(in, string(u)) {
			number = strings.TrimSpace(strings.TrimSuffix(in, string(u)))
			unit = u
			break
		}
	}
	if unit == "" {
		return Timebase{}, &InvalidTimebaseError{Input: s, Reason: "unit must be ms or us"}
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Timebase{}, &InvalidTimebaseError{Input: s, Reason: "coefficient is not a number"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return Timebase{}, &InvalidTimebaseError{Input: s, Reason: "coefficient must be positive"}
	}

	tb := Timebase{Value: value, Unit: unit}
	us := tb.SecondsPerDivision() * 1e6
	if tb.SecondsPerSample() <= 0 || us < MinTimebaseMicroseconds {
		return Timebase{}, &InvalidTimebaseError{Input: s, Reason: "timebase must be at least 1 us"}
	}
	if us > MaxTimebaseMicroseconds {
		return Timebase{}, &InvalidTimebaseError{Input: s, Reason: "timebase is too large for the device"}
	}

	return tb, nil
}

func (t Timebase) SecondsPerDivision() float64 {
	return t.Value * unitFactors[t.Unit]
}

func (t Timebase) SecondsPerSample() float64 {
	return t.SecondsPerDivision() / SamplesPerDivision
}

// Microseconds returns the time per division rounded to whole microseconds,
// which is what the firmware accepts.
func (t Timebase) Microseconds() int64 {
	return int64(math.Round(t.SecondsPerDivision() * 1e6))
}

func (t Timebase) String() string {
	return strconv.FormatFloat(t.Value, 'g', -1, 64) + " " + string(t.Unit)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
