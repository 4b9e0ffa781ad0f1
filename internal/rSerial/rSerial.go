// r in rserial stands for "robust"
package rserial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/processing"
	"sleepywoodpecker/goscope/internal/scope"
)

// the parts of serial.Port the device uses, so tests can fake the port
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// allow tests to override external dependencies
var (
	openPort             = func(name string, mode *serial.Mode) (port, error) { return serial.Open(name, mode) }
	getPortsList         = serial.GetPortsList
	getDetailedPortsList = enumerator.GetDetailedPortsList
)

// ErrFrameTimeout means the firmware did not send a whole frame in time.
var ErrFrameTimeout = errors.New("[rserial] timed out waiting for frame")

// RSerial is the oscilloscope device. One mutex guards the port so a
// disconnect or configuration write never overlaps an acquisition. The
// connection status is mirrored outside the lock so it can be read while a
// frame is being read.
type RSerial struct {
	mu           sync.Mutex
	port         port
	portName     string
	connected    atomic.Bool
	connectedTo  atomic.String
	baudrate     int
	readTimeout  time.Duration
	frameTimeout time.Duration
	codec        processing.Codec
	tempBuff     []byte
	logger       *zap.Logger
	now          func() time.Time
}

func NewRSerial(baudrate int, codec processing.Codec, readTimeout time.Duration, frameTimeout time.Duration, logger *zap.Logger) *RSerial {
	return &RSerial{
		baudrate:     baudrate,
		readTimeout:  readTimeout,
		frameTimeout: frameTimeout,
		codec:        codec,
		tempBuff:     make([]byte, codec.FrameSize()),
		logger:       logger,
		now:          time.Now,
	}
}

func (r *RSerial) Connect(portName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		return &scope.ConnectError{Port: portName, Err: fmt.Errorf("already connected to %s", r.portName)}
	}

	p, err := openPort(portName, &serial.Mode{BaudRate: r.baudrate})
	if err != nil {
		r.logger.Warn("[rserial] error opening serial port", zap.Error(err), zap.String("portName", portName))
		return &scope.ConnectError{Port: portName, Err: err}
	}

	if err := initialize(p, r.readTimeout); err != nil {
		p.Close()
		r.logger.Warn("[rserial] error initializing serial port", zap.Error(err), zap.String("portName", portName))
		return &scope.ConnectError{Port: portName, Err: err}
	}

	r.port = p
	r.portName = portName
	r.connected.Store(true)
	r.connectedTo.Store(portName)
	r.logger.Info("[rserial] connected", zap.String("portName", portName), zap.Int("baudrate", r.baudrate), zap.String("codec", r.codec.Name()))
	return nil
}

func initialize(p port, readTimeout time.Duration) error {
	if err := p.SetReadTimeout(readTimeout); err != nil {
		return err
	}
	return p.ResetInputBuffer()
}

// Disconnect releases the port. It is safe to call when not connected and
// waits for an acquisition in progress to return.
func (r *RSerial) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.release()
}

func (r *RSerial) release() error {
	if r.port == nil {
		return nil
	}

	err := r.port.Close()
	r.logger.Info("[rserial] disconnected", zap.String("portName", r.portName))
	r.port = nil
	r.portName = ""
	r.connected.Store(false)
	r.connectedTo.Store("")
	return err
}

func (r *RSerial) IsConnected() bool {
	return r.connected.Load()
}

func (r *RSerial) PortName() string {
	return r.connectedTo.Load()
}

func (r *RSerial) WriteTimebase(tb scope.Timebase) error {
	return r.writeCommand(r.codec.EncodeTimebase(tb))
}

func (r *RSerial) WriteTriggerState(on bool) error {
	return r.writeCommand(r.codec.EncodeTriggerState(on))
}

func (r *RSerial) WriteTriggerSlope(slope scope.TriggerSlope) error {
	return r.writeCommand(r.codec.EncodeTriggerSlope(slope))
}

func (r *RSerial) writeCommand(cmd []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return scope.ErrNotConnected
	}
	if err := r.write(cmd); err != nil {
		return fmt.Errorf("[rserial] writing command %q: %w", cmd, err)
	}
	return nil
}

func (r *RSerial) write(data []byte) error {
	totalWritten := 0
	for totalWritten < len(data) {
		n, err := r.port.Write(data[totalWritten:])
		if err != nil {
			return err
		}
		totalWritten += n
	}
	return nil
}

// CleanBuffers drops whatever is left in the receive buffer from an earlier run.
func (r *RSerial) CleanBuffers() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return scope.ErrNotConnected
	}
	return r.port.ResetInputBuffer()
}

// AcquireSingle requests one frame and blocks until it has been read, the
// frame timeout passes, or the port fails.
func (r *RSerial) AcquireSingle() (scope.SampleBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil, &scope.AcquisitionError{Kind: scope.Disconnected, Err: scope.ErrNotConnected}
	}

	if request := r.codec.AcquireRequest(); len(request) > 0 {
		if err := r.write(request); err != nil {
			return nil, r.ioError(err)
		}
	}

	if err := r.ReadPacket(); err != nil {
		if errors.Is(err, ErrFrameTimeout) {
			r.logger.Warn("[rserial] frame timeout", zap.String("portName", r.portName), zap.Duration("frameTimeout", r.frameTimeout))
			return nil, &scope.AcquisitionError{Kind: scope.Timeout, Err: err}
		}
		return nil, r.ioError(err)
	}

	samples, err := r.codec.Decode(r.tempBuff)
	if err != nil {
		var oosError *processing.OutOfSyncError
		if errors.As(err, &oosError) {
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
		} else {
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName))
		}
		r.sync()
		return nil, &scope.AcquisitionError{Kind: scope.Malformed, Err: err}
	}

	return samples, nil
}

// ReadPacket fills tempBuff with exactly one frame. A read that returns no
// bytes is the port's read timeout expiring, so keep going until the frame
// deadline.
func (r *RSerial) ReadPacket() error {
	deadline := r.now().Add(r.frameTimeout)

	count := 0
	for count < len(r.tempBuff) {
		n, err := r.port.Read(r.tempBuff[count:])
		if err != nil {
			return err
		}
		count += n

		if count < len(r.tempBuff) && !r.now().Before(deadline) {
			return fmt.Errorf("%w: got %d of %d bytes", ErrFrameTimeout, count, len(r.tempBuff))
		}
	}

	return nil
}

// ioError handles a failed read or write: the port is treated as gone and
// released, so the next connect starts clean.
func (r *RSerial) ioError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		r.logger.Info("[rserial] port closed during acquisition", zap.String("portName", r.portName))
	} else {
		r.logger.Warn("[rserial] lost serial port", zap.Error(err), zap.String("portName", r.portName))
	}

	if closeErr := r.release(); closeErr != nil {
		r.logger.Debug("[rserial] error closing lost port", zap.Error(closeErr))
	}
	return &scope.AcquisitionError{Kind: scope.Disconnected, Err: err}
}

// sync drops the rest of a misaligned frame so the next request starts on a
// frame boundary.
func (r *RSerial) sync() {
	r.logger.Warn("[rserial] resyncing serial port", zap.String("portName", r.portName))

	if err := r.port.ResetInputBuffer(); err != nil {
		r.logger.Warn("[rserial] error while resyncing serial port", zap.Error(err), zap.String("portName", r.portName))
	}
}

// ListPorts returns the names of the serial ports on this machine.
func ListPorts() ([]string, error) {
	return getPortsList()
}

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListDetailedPorts is ListPorts with USB identification where the OS has it.
func ListDetailedPorts() ([]PortInfo, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
