package processing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sleepywoodpecker/goscope/internal/scope"
)

// Recorder appends every frame it is given to a CSV file, one frame per row:
// frame number, capture time in unix nanoseconds, then the samples in volts.
type Recorder struct {
	Filename     string
	messageQueue chan scope.Series
	logger       *zap.Logger
	frameNumber  uint64
	dropped      atomic.Uint64
}

func NewRecorder(filename string, queueLength int, logger *zap.Logger) *Recorder {
	return &Recorder{
		Filename:     filename,
		messageQueue: make(chan scope.Series, queueLength),
		logger:       logger,
	}
}

// Submit queues a frame without blocking. Frames are dropped when the writer
// falls behind.
func (r *Recorder) Submit(series scope.Series) bool {
	select {
	case r.messageQueue <- series:
		return true
	default:
		dropped := r.dropped.Inc()
		r.logger.Warn("[recorder] queue full, dropping frame", zap.Uint64("dropped", dropped), zap.String("outputFile", r.Filename))
		return false
	}
}

func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) Run(ctx context.Context) error {
	file, err := os.OpenFile(r.Filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		r.logger.Error("[recorder] error opening a file", zap.Error(err), zap.String("outputFile", r.Filename))
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	for {
		select {
		case series := <-r.messageQueue:
			if err := r.WriteFrame(series, writer); err != nil {
				r.logger.Warn("[recorder] error writing frame", zap.Error(err), zap.String("outputFile", r.Filename))
			}
		case <-ctx.Done():
			r.logger.Info("[recorder] received shutdown signal", zap.String("outputFile", r.Filename))
			return nil
		}
	}
}

func (r *Recorder) WriteFrame(series scope.Series, outStream io.Writer) error {
	r.frameNumber++

	line := make([]byte, 0, 16+len(series.Values)*8)
	line = strconv.AppendUint(line, r.frameNumber, 10)
	line = append(line, ',')
	line = strconv.AppendInt(line, series.Captured.UnixNano(), 10)
	for _, v := range series.Values {
		line = append(line, ',')
		line = strconv.AppendFloat(line, v, 'f', 4, 64)
	}
	line = append(line, '\n')

	if _, err := outStream.Write(line); err != nil {
		return fmt.Errorf("writing frame %d: %w", r.frameNumber, err)
	}
	return nil
}
