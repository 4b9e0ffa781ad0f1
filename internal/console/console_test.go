package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"sleepywoodpecker/goscope/internal/bridge"
	rserial "sleepywoodpecker/goscope/internal/rSerial"
	"sleepywoodpecker/goscope/internal/scope"
)

// fakeCommander writes straight to the bridge like the controller would
type fakeCommander struct {
	display   *bridge.Bridge
	connected bool
	calls     []string
}

func (f *fakeCommander) ConnectToDevice(port string) bool {
	f.calls = append(f.calls, "connect "+port)
	f.connected = port == "/dev/ttyACM0"
	f.display.SetConnected(f.connected)
	return f.connected
}

func (f *fakeCommander) DisconnectDevice() {
	f.calls = append(f.calls, "disconnect")
	f.connected = false
}

func (f *fakeCommander) RefreshPorts() []string {
	return []string{"/dev/ttyACM0", "/dev/ttyS0"}
}

func (f *fakeCommander) RunSingle() bool {
	f.calls = append(f.calls, "single")
	return f.connected
}

func (f *fakeCommander) RunContinuous() bool {
	f.calls = append(f.calls, "run")
	return f.connected
}

func (f *fakeCommander) Stop() {
	f.calls = append(f.calls, "stop")
}

func (f *fakeCommander) SetTimebase(value string) error {
	tb, err := scope.ParseTimebase(value)
	if err != nil {
		return err
	}
	f.display.SetTimebase(tb.String())
	return nil
}

func (f *fakeCommander) SetTriggerState(on bool) {
	f.display.SetTriggerOn(on)
}

func (f *fakeCommander) SetTriggerSlope(value string) error {
	slope, err := scope.ParseTriggerSlope(value)
	if err != nil {
		return err
	}
	f.display.SetTriggerSlope(slope)
	return nil
}

func (f *fakeCommander) Mode() scope.AcquisitionMode {
	return scope.Idle
}

func newTestConsole(t *testing.T) (*Console, *fakeCommander) {
	display := bridge.New()
	fake := &fakeCommander{display: display}
	c := New(fake, display, zaptest.NewLogger(t))
	c.listDetails = func() ([]rserial.PortInfo, error) {
		return []rserial.PortInfo{{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"}}, nil
	}
	return c, fake
}

func TestDispatch(t *testing.T) {
	c, fake := newTestConsole(t)

	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"run", "", true},
		{"connect /dev/ttyS9", "", true},
		{"connect /dev/ttyACM0", "connected to /dev/ttyACM0", false},
		{"run", "running", false},
		{"stop", "stopped", false},
		{"single", "armed", false},
		{"timebase 100 us", "timebase 100 us", false},
		{"tb 5ms", "timebase 5 ms", false},
		{"timebase 5 s", "", true},
		{"trigger on", "trigger on", false},
		{"trigger maybe", "", true},
		{"slope FALLING", "slope falling", false},
		{"slope up", "", true},
		{"disconnect", "disconnected", false},
		{"frobnicate", "", true},
	}

	for _, tt := range tests {
		got, err := c.Dispatch(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("Dispatch(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Dispatch(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}

	want := []string{"run", "connect /dev/ttyS9", "connect /dev/ttyACM0", "run", "stop", "single", "disconnect"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
}

func TestDispatchNotConnected(t *testing.T) {
	c, _ := newTestConsole(t)

	if _, err := c.Dispatch("single"); !errors.Is(err, scope.ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestPorts(t *testing.T) {
	c, _ := newTestConsole(t)

	got, err := c.Dispatch("ports")
	if err != nil {
		t.Fatal(err)
	}
	want := "/dev/ttyACM0  usb 2341:0043 Arduino Uno\n/dev/ttyS0"
	if got != want {
		t.Errorf("ports = %q, want %q", got, want)
	}
}

func TestStatus(t *testing.T) {
	c, _ := newTestConsole(t)
	c.display.SetConnected(true)
	c.display.SetTimebase("20 ms")
	c.display.SetError("acquisition failed: timeout")

	got, err := c.Dispatch("status")
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"connected=true", "mode=idle", "timebase=20 ms", "last error: acquisition failed: timeout"} {
		if !strings.Contains(got, part) {
			t.Errorf("status %q missing %q", got, part)
		}
	}
}

func TestRunUntilQuit(t *testing.T) {
	c, fake := newTestConsole(t)

	in := strings.NewReader("connect /dev/ttyACM0\nbogus\nquit\nstop\n")
	var out bytes.Buffer
	if err := c.Run(context.Background(), in, &out); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), "connected to /dev/ttyACM0") {
		t.Errorf("output missing connect reply: %q", out.String())
	}
	if !strings.Contains(out.String(), "error: unknown command") {
		t.Errorf("output missing error: %q", out.String())
	}
	for _, call := range fake.calls {
		if call == "stop" {
			t.Error("commands after quit must not run")
		}
	}
}

func TestRunReleasesReaderOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, fake := newTestConsole(t)
	pr, pw := io.Pipe()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// a line arriving after Run returned is read but never dispatched, and
	// the reader exits instead of waiting for someone to take it
	if _, err := io.WriteString(pw, "stop\n"); err != nil {
		t.Fatal(err)
	}
	for _, call := range fake.calls {
		if call == "stop" {
			t.Error("line read after Run returned was dispatched")
		}
	}
}
