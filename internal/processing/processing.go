package processing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"sleepywoodpecker/goscope/internal/scope"
)

const (
	CodecU8    = "u8"
	CodecU16LE = "u16le"
)

// every frame sent by the firmware ends with this
var StopSequence = [2]byte{'\r', '\n'}

// Full scale of the Arduino ADC for each sample width.
const (
	u8FullScale  = 255
	u16FullScale = 1023
)

// Codec is the firmware wire format: how a frame of samples is laid out and
// how configuration commands are spelled.
type Codec interface {
	Name() string
	FrameSize() int
	Decode(frame []byte) (scope.SampleBuffer, error)

	AcquireRequest() []byte
	EncodeTimebase(tb scope.Timebase) []byte
	EncodeTriggerState(on bool) []byte
	EncodeTriggerSlope(slope scope.TriggerSlope) []byte
}

func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecU8:
		return U8Codec{}, nil
	case CodecU16LE:
		return U16LECodec{}, nil
	}
	return nil, fmt.Errorf("[processing] unknown codec %q", name)
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[processing] incorrect stop sequence detected: %v", e.ByteSequence[max(0, len(e.ByteSequence)-len(StopSequence)):])
}

func checkFrame(frame []byte, size int) error {
	if len(frame) != size || !bytes.Equal(frame[size-len(StopSequence):], StopSequence[:]) {
		byteSequenceCopy := make([]byte, len(frame))
		copy(byteSequenceCopy, frame)

		return &OutOfSyncError{
			ByteSequence: byteSequenceCopy,
		}
	}
	return nil
}

// asciiCommands are the line based configuration commands understood by the
// firmware, shared by every frame layout.
type asciiCommands struct{}

func (asciiCommands) AcquireRequest() []byte {
	return []byte("A\n")
}

// timebase is sent as whole microseconds per division
func (asciiCommands) EncodeTimebase(tb scope.Timebase) []byte {
	return []byte("T" + strconv.FormatInt(tb.Microseconds(), 10) + "\n")
}

func (asciiCommands) EncodeTriggerState(on bool) []byte {
	if on {
		return []byte("O1\n")
	}
	return []byte("O0\n")
}

func (asciiCommands) EncodeTriggerSlope(slope scope.TriggerSlope) []byte {
	if slope == scope.SlopeFalling {
		return []byte("EF\n")
	}
	return []byte("ER\n")
}

// U8Codec reads one unsigned byte per sample.
type U8Codec struct {
	asciiCommands
}

func (U8Codec) Name() string { return CodecU8 }

func (U8Codec) FrameSize() int {
	return scope.BufferSize + len(StopSequence)
}

func (c U8Codec) Decode(frame []byte) (scope.SampleBuffer, error) {
	if err := checkFrame(frame, c.FrameSize()); err != nil {
		return nil, err
	}

	samples := make(scope.SampleBuffer, scope.BufferSize)
	for i, raw := range frame[:scope.BufferSize] {
		samples[i] = float64(raw) * scope.VoltageMax / u8FullScale
	}
	return samples, nil
}

// DataPacket is the layout of a u16le frame.
type DataPacket struct {
	RawReadings [scope.BufferSize]uint16
	Stop        [2]byte
}

var PacketSize = binary.Size(DataPacket{})

// U16LECodec reads little endian 10 bit ADC counts.
type U16LECodec struct {
	asciiCommands
}

func (U16LECodec) Name() string { return CodecU16LE }

func (U16LECodec) FrameSize() int {
	return PacketSize
}

func (c U16LECodec) Decode(frame []byte) (scope.SampleBuffer, error) {
	if err := checkFrame(frame, c.FrameSize()); err != nil {
		return nil, err
	}

	var decodedStruct DataPacket
	if err := binary.Read(bytes.NewReader(frame), binary.LittleEndian, &decodedStruct); err != nil {
		return nil, err
	}

	samples := make(scope.SampleBuffer, scope.BufferSize)
	for i, raw := range decodedStruct.RawReadings {
		if raw > u16FullScale {
			return nil, fmt.Errorf("[processing] sample %d out of ADC range: %d", i, raw)
		}
		samples[i] = float64(raw) * scope.VoltageMax / u16FullScale
	}
	return samples, nil
}
