package controller

import (
	"context"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/acquisition"
	"sleepywoodpecker/goscope/internal/bridge"
	"sleepywoodpecker/goscope/internal/processing"
	"sleepywoodpecker/goscope/internal/scope"
)

const DEFAULT_FPS_INTERVAL = 500 * time.Millisecond

// Device is the oscilloscope hardware as the controller sees it.
type Device interface {
	Connect(port string) error
	Disconnect() error
	IsConnected() bool
	WriteTimebase(tb scope.Timebase) error
	WriteTriggerState(on bool) error
	WriteTriggerSlope(slope scope.TriggerSlope) error
	CleanBuffers() error
	AcquireSingle() (scope.SampleBuffer, error)
}

// FrameSink receives a copy of every displayed frame. Submit must not block.
type FrameSink interface {
	Submit(series scope.Series) bool
}

type Options struct {
	// FpsInterval is how often the fps estimate is published while running.
	FpsInterval time.Duration
	ListPorts   func() ([]string, error)
	Sink        FrameSink
	Now         func() time.Time
}

// Controller turns user intents into device writes and acquisition signals.
// All of its state belongs to the goroutine running Run; exported methods
// hand their work to that goroutine and wait for it.
type Controller struct {
	logger      *zap.Logger
	device      Device
	loop        *acquisition.Loop
	bridge      *bridge.Bridge
	listPorts   func() ([]string, error)
	sink        FrameSink
	fpsInterval time.Duration
	now         func() time.Time

	calls chan func()
	done  chan struct{}

	// owned by Run
	state     scope.DeviceState
	mode      scope.AcquisitionMode
	timeAxis  scope.TimeAxis
	fps       *processing.FpsEstimator
	fpsTicker *time.Ticker
	inFlight  bool
	// connection counts successful connects; a read armed under an older
	// connection never satisfies a request made under the current one
	connection      uint64
	armedConnection uint64
}

func New(device Device, display *bridge.Bridge, logger *zap.Logger, opts Options) *Controller {
	if opts.FpsInterval <= 0 {
		opts.FpsInterval = DEFAULT_FPS_INTERVAL
	}
	if opts.ListPorts == nil {
		opts.ListPorts = func() ([]string, error) { return nil, nil }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		logger:      logger,
		device:      device,
		loop:        acquisition.NewLoop(device, logger),
		bridge:      display,
		listPorts:   opts.ListPorts,
		sink:        opts.Sink,
		fpsInterval: opts.FpsInterval,
		now:         opts.Now,
		calls:       make(chan func()),
		done:        make(chan struct{}),
		state:       scope.DefaultDeviceState(),
		mode:        scope.Idle,
	}
	c.fps = processing.NewFpsEstimator(c.now())
	c.timeAxis = scope.NewTimeAxis(c.state.Timebase)

	display.SetConnected(false)
	display.SetRunning(false)
	display.SetTimebase(c.state.Timebase.String())
	display.SetAxes(scope.AxesFor(c.state.Timebase))
	display.SetTriggerOn(c.state.TriggerOn)
	display.SetTriggerSlope(c.state.TriggerSlope)

	return c
}

// Run owns the controller state and the acquisition loop until ctx is done.
// It returns once the loop has exited, which may mean waiting for a read in
// progress to finish.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	loopDone := make(chan struct{})
	go func() {
		c.loop.Run(ctx)
		close(loopDone)
	}()
	defer func() { <-loopDone }()
	defer c.stopFpsTimer()

	c.logger.Info("[controller] started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("[controller] received shutdown signal")
			return
		case fn := <-c.calls:
			fn()
		case result := <-c.loop.Results():
			c.onAcquisitionComplete(result)
		case <-c.fpsTick():
			c.bridge.SetFPS(c.fps.FPS())
		}
	}
}

// do runs fn on the Run goroutine and waits for it. It returns false if the
// controller has stopped.
func (c *Controller) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case c.calls <- func() {
		defer close(finished)
		fn()
	}:
	case <-c.done:
		return false
	}

	<-finished
	return true
}

func (c *Controller) ConnectToDevice(port string) bool {
	var ok bool
	c.do(func() { ok = c.connectToDevice(port) })
	return ok
}

func (c *Controller) DisconnectDevice() {
	c.do(c.disconnectDevice)
}

func (c *Controller) RefreshPorts() []string {
	var ports []string
	c.do(func() { ports = c.refreshPorts() })
	return ports
}

func (c *Controller) RunSingle() bool {
	var ok bool
	c.do(func() { ok = c.runSingle() })
	return ok
}

func (c *Controller) RunContinuous() bool {
	var ok bool
	c.do(func() { ok = c.runContinuous() })
	return ok
}

func (c *Controller) Stop() {
	c.do(c.stop)
}

func (c *Controller) SetTimebase(value string) error {
	var err error
	c.do(func() { err = c.setTimebase(value) })
	return err
}

func (c *Controller) SetTriggerState(on bool) {
	c.do(func() { c.setTriggerState(on) })
}

func (c *Controller) SetTriggerSlope(value string) error {
	var err error
	c.do(func() { err = c.setTriggerSlope(value) })
	return err
}

func (c *Controller) Mode() scope.AcquisitionMode {
	var mode scope.AcquisitionMode
	c.do(func() { mode = c.mode })
	return mode
}

func (c *Controller) State() scope.DeviceState {
	var state scope.DeviceState
	c.do(func() { state = c.state })
	return state
}

// TimeAxis returns the axis new frames are paired with. The slice is
// replaced on every timebase change and never modified.
func (c *Controller) TimeAxis() scope.TimeAxis {
	var axis scope.TimeAxis
	c.do(func() { axis = c.timeAxis })
	return axis
}

func (c *Controller) refreshPorts() []string {
	ports, err := c.listPorts()
	if err != nil {
		c.logger.Warn("[controller] error listing serial ports", zap.Error(err))
		return nil
	}

	c.bridge.SetPorts(ports)
	return ports
}

func (c *Controller) connectToDevice(port string) bool {
	if c.device.IsConnected() {
		if port == c.state.Port {
			return true
		}
		c.disconnectDevice()
	}

	ports := c.refreshPorts()
	if port == "" || !slices.Contains(ports, port) {
		c.logger.Warn("[controller] refusing to connect to unknown port", zap.String("portName", port), zap.Strings("ports", ports))
		c.bridge.SetConnected(false)
		return false
	}

	if err := c.device.Connect(port); err != nil {
		c.logger.Warn("[controller] error connecting to device", zap.Error(err), zap.String("portName", port))
		c.bridge.SetError(err.Error())
		c.bridge.SetConnected(false)
		return false
	}
	c.state.Port = port
	c.connection++

	// the firmware starts with its own defaults, bring it in line with ours
	if err := c.writeDeviceConfig(); err != nil {
		c.logger.Warn("[controller] error configuring device", zap.Error(err), zap.String("portName", port))
		c.bridge.SetError(err.Error())
	} else {
		c.bridge.SetError("")
	}

	c.bridge.SetConnected(true)
	return true
}

func (c *Controller) writeDeviceConfig() error {
	return multierr.Combine(
		c.device.WriteTimebase(c.state.Timebase),
		c.device.WriteTriggerState(c.state.TriggerOn),
		c.device.WriteTriggerSlope(c.state.TriggerSlope),
	)
}

// disconnectDevice stops acquisition first. The device waits for a read in
// progress before closing, and its result is still delivered, but nothing
// re-arms because the mode is already idle.
func (c *Controller) disconnectDevice() {
	c.stop()

	if err := c.device.Disconnect(); err != nil {
		c.logger.Warn("[controller] error disconnecting device", zap.Error(err), zap.String("portName", c.state.Port))
	}
	c.state.Port = ""
	c.bridge.SetConnected(false)
}

func (c *Controller) runSingle() bool {
	if !c.device.IsConnected() {
		return false
	}

	if c.mode == scope.Continuous {
		c.stopFpsTimer()
		c.bridge.SetRunning(false)
	}
	c.mode = scope.SingleArmed
	c.arm(true)
	return true
}

func (c *Controller) runContinuous() bool {
	if !c.device.IsConnected() {
		return false
	}
	if c.mode == scope.Continuous {
		return true
	}

	c.fps.Reset(c.now())
	c.startFpsTimer()
	c.mode = scope.Continuous
	c.bridge.SetRunning(true)
	c.arm(true)
	return true
}

// stop only prevents re-arming; a read in progress finishes normally.
func (c *Controller) stop() {
	c.mode = scope.Idle
	c.stopFpsTimer()
	c.bridge.SetRunning(false)
}

// arm signals the loop unless an acquisition is already in flight, in which
// case that frame serves the request.
func (c *Controller) arm(clean bool) {
	if c.inFlight {
		return
	}

	if clean {
		if err := c.device.CleanBuffers(); err != nil {
			c.logger.Warn("[controller] error cleaning device buffers", zap.Error(err))
		}
	}
	if c.loop.Signal() {
		c.inFlight = true
		c.armedConnection = c.connection
	}
}

func (c *Controller) onAcquisitionComplete(result acquisition.Result) {
	c.inFlight = false

	if c.armedConnection != c.connection {
		c.logger.Debug("[controller] dropping result from a previous connection", zap.Error(result.Err), zap.Stringer("mode", c.mode))
		if c.mode == scope.SingleArmed || c.mode == scope.Continuous {
			c.arm(true)
		}
		return
	}

	if result.Err != nil {
		c.onAcquisitionError(result.Err)
		return
	}

	if c.mode == scope.Continuous {
		c.fps.Capture(c.now())
	}

	series := scope.Series{
		Time:     c.timeAxis,
		Values:   result.Samples,
		Captured: result.Finished,
	}
	c.bridge.UpdateSeries(series)
	if c.sink != nil {
		c.sink.Submit(series)
	}

	switch c.mode {
	case scope.Continuous:
		c.arm(false)
	case scope.SingleArmed:
		c.mode = scope.Idle
	}
}

func (c *Controller) onAcquisitionError(err error) {
	c.logger.Warn("[controller] acquisition failed", zap.Error(err), zap.Stringer("mode", c.mode))
	c.bridge.SetError(err.Error())

	// a failed single is just over; continuous stops rather than retrying
	if c.mode == scope.Continuous {
		c.stop()
	}
	c.mode = scope.Idle

	if scope.IsDeviceLost(err) && !c.device.IsConnected() {
		c.state.Port = ""
		c.bridge.SetConnected(false)
	}
}

// setTimebase validates before touching anything, then updates the device
// state and time axis together.
func (c *Controller) setTimebase(value string) error {
	tb, err := scope.ParseTimebase(value)
	if err != nil {
		c.logger.Warn("[controller] rejected timebase", zap.Error(err))
		return err
	}

	c.state.Timebase = tb
	c.timeAxis = scope.NewTimeAxis(tb)

	if c.device.IsConnected() {
		if err := c.device.WriteTimebase(tb); err != nil {
			c.logger.Warn("[controller] error writing timebase", zap.Error(err), zap.Stringer("timebase", tb))
			c.bridge.SetError(err.Error())
		}
	}

	c.bridge.SetTimebase(tb.String())
	c.bridge.SetAxes(scope.AxesFor(tb))
	return nil
}

func (c *Controller) setTriggerState(on bool) {
	c.state.TriggerOn = on

	if c.device.IsConnected() {
		if err := c.device.WriteTriggerState(on); err != nil {
			c.logger.Warn("[controller] error writing trigger state", zap.Error(err), zap.Bool("triggerOn", on))
			c.bridge.SetError(err.Error())
		}
	}

	c.bridge.SetTriggerOn(on)
}

func (c *Controller) setTriggerSlope(value string) error {
	slope, err := scope.ParseTriggerSlope(value)
	if err != nil {
		c.logger.Warn("[controller] rejected trigger slope", zap.Error(err))
		return err
	}

	c.state.TriggerSlope = slope

	if c.device.IsConnected() {
		if err := c.device.WriteTriggerSlope(slope); err != nil {
			c.logger.Warn("[controller] error writing trigger slope", zap.Error(err), zap.String("triggerSlope", string(slope)))
			c.bridge.SetError(err.Error())
		}
	}

	c.bridge.SetTriggerSlope(slope)
	return nil
}

func (c *Controller) startFpsTimer() {
	c.stopFpsTimer()
	c.fpsTicker = time.NewTicker(c.fpsInterval)
}

func (c *Controller) stopFpsTimer() {
	if c.fpsTicker != nil {
		c.fpsTicker.Stop()
		c.fpsTicker = nil
	}
}

// fpsTick is nil while the timer is stopped, which disables its select case.
func (c *Controller) fpsTick() <-chan time.Time {
	if c.fpsTicker == nil {
		return nil
	}
	return c.fpsTicker.C
}
