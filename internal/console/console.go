// Package console is a line based front end for the controller, used in
// place of a GUI.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/bridge"
	rserial "sleepywoodpecker/goscope/internal/rSerial"
	"sleepywoodpecker/goscope/internal/scope"
)

// Commander is what the console drives. *controller.Controller implements it.
type Commander interface {
	ConnectToDevice(port string) bool
	DisconnectDevice()
	RefreshPorts() []string
	RunSingle() bool
	RunContinuous() bool
	Stop()
	SetTimebase(value string) error
	SetTriggerState(on bool)
	SetTriggerSlope(value string) error
	Mode() scope.AcquisitionMode
}

var ErrQuit = errors.New("quit")

const helpText = `commands:
  ports                     list serial ports
  connect <port>            connect to a device
  disconnect                disconnect the device
  run                       start continuous acquisition
  stop                      stop continuous acquisition
  single                    acquire one frame
  timebase <value> <unit>   set time per division, unit ms or us
  trigger on|off            enable or disable the trigger
  slope rising|falling      set the trigger edge
  status                    show the current state
  quit                      exit`

type Console struct {
	commander   Commander
	display     *bridge.Bridge
	listDetails func() ([]rserial.PortInfo, error)
	logger      *zap.Logger
}

func New(commander Commander, display *bridge.Bridge, logger *zap.Logger) *Console {
	return &Console{
		commander:   commander,
		display:     display,
		listDetails: rserial.ListDetailedPorts,
		logger:      logger,
	}
}

// Run reads commands from in until it is closed, ctx is done, or the user
// quits. Replies go to out.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	// the reader stays blocked in Scan until in yields a line or closes, but
	// never in a send once Run has returned
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(out, "goscope ready, type help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			reply, err := c.Dispatch(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.logger.Debug("[console] command failed", zap.String("command", line), zap.Error(err))
				fmt.Fprintln(out, "error:", err)
				continue
			}
			if reply != "" {
				fmt.Fprintln(out, reply)
			}
		}
	}
}

// Dispatch runs a single command line and returns the text to show.
func (c *Console) Dispatch(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		return helpText, nil

	case "quit", "exit":
		return "", ErrQuit

	case "ports":
		return c.ports()

	case "connect":
		if len(args) != 1 {
			return "", errors.New("usage: connect <port>")
		}
		if !c.commander.ConnectToDevice(args[0]) {
			return "", fmt.Errorf("could not connect to %s", args[0])
		}
		return "connected to " + args[0], nil

	case "disconnect":
		c.commander.DisconnectDevice()
		return "disconnected", nil

	case "run":
		if !c.commander.RunContinuous() {
			return "", scope.ErrNotConnected
		}
		return "running", nil

	case "stop":
		c.commander.Stop()
		return "stopped", nil

	case "single":
		if !c.commander.RunSingle() {
			return "", scope.ErrNotConnected
		}
		return "armed", nil

	case "timebase", "tb":
		if len(args) == 0 {
			return "", errors.New("usage: timebase <value> <unit>")
		}
		if err := c.commander.SetTimebase(strings.Join(args, " ")); err != nil {
			return "", err
		}
		return "timebase " + c.display.Snapshot().Timebase, nil

	case "trigger":
		if len(args) != 1 {
			return "", errors.New("usage: trigger on|off")
		}
		switch strings.ToLower(args[0]) {
		case "on":
			c.commander.SetTriggerState(true)
		case "off":
			c.commander.SetTriggerState(false)
		default:
			return "", errors.New("usage: trigger on|off")
		}
		return "trigger " + strings.ToLower(args[0]), nil

	case "slope":
		if len(args) != 1 {
			return "", errors.New("usage: slope rising|falling")
		}
		if err := c.commander.SetTriggerSlope(args[0]); err != nil {
			return "", err
		}
		return "slope " + string(c.display.Snapshot().TriggerSlope), nil

	case "status":
		return c.status(), nil
	}

	return "", fmt.Errorf("unknown command %q, type help", cmd)
}

func (c *Console) ports() (string, error) {
	names := c.commander.RefreshPorts()

	details, err := c.listDetails()
	if err != nil {
		c.logger.Debug("[console] no port details", zap.Error(err))
		details = nil
	}
	byName := make(map[string]rserial.PortInfo, len(details))
	for _, d := range details {
		byName[d.Name] = d
	}

	if len(names) == 0 {
		return "no serial ports found", nil
	}

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		if d, ok := byName[name]; ok && d.IsUSB {
			fmt.Fprintf(&b, "  usb %s:%s", d.VID, d.PID)
			if d.Product != "" {
				fmt.Fprintf(&b, " %s", d.Product)
			}
			if d.SerialNumber != "" {
				fmt.Fprintf(&b, " serial %s", d.SerialNumber)
			}
		}
	}
	return b.String(), nil
}

func (c *Console) status() string {
	s := c.display.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "connected=%t running=%t mode=%s\n", s.Connected, s.Running, c.commander.Mode())
	fmt.Fprintf(&b, "timebase=%s trigger=%t slope=%s\n", s.Timebase, s.TriggerOn, s.TriggerSlope)
	fmt.Fprintf(&b, "fps=%.1f frames=%d", s.FPS, s.Frames)
	if s.Error != "" {
		fmt.Fprintf(&b, "\nlast error: %s", s.Error)
	}
	return b.String()
}
