package processing

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestFormatInfluxLine(t *testing.T) {
	line := FormatInfluxLine(Status{Connected: true, Running: true, FPS: 12.5, Frames: 7}, time.Unix(0, 99))
	want := "goscope connected=true,running=true,fps=12.50,frames=7i 99"
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

// shortWriter accepts at most n bytes per call
type shortWriter struct {
	bytes.Buffer
	n int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		p = p[:w.n]
	}
	return w.Buffer.Write(p)
}

func TestSamplerWritesWholeLine(t *testing.T) {
	w := &shortWriter{n: 5}
	s := NewSampler(time.Second, w, func() Status { return Status{FPS: 1} }, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Unix(0, 1) }

	s.SampleAndLog()

	want := "goscope connected=false,running=false,fps=1.00,frames=0i 1"
	if w.String() != want {
		t.Errorf("got %q, want %q", w.String(), want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection refused")
}

func TestSamplerLogsWriteErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewSampler(time.Second, failingWriter{}, func() Status { return Status{} }, zap.New(core))

	s.SampleAndLog()

	if logs.FilterMessage("[sampler] error writing data to UDP connection").Len() != 1 {
		t.Error("expected a warning for the failed write")
	}
}
