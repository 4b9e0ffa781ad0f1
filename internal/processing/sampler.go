package processing

import (
	"context"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const SamplingChannelName = "goscope"

// Status is the subset of scope state exported as telemetry.
type Status struct {
	Connected bool
	Running   bool
	FPS       float64
	Frames    uint64
}

// Sampler periodically sends the scope status to telegraf as an influx line.
type Sampler struct {
	samplingFrequency time.Duration
	conn              io.Writer
	statusSource      func() Status
	logger            *zap.Logger
	now               func() time.Time
}

func NewSampler(samplingFrequency time.Duration, conn io.Writer, statusSource func() Status, logger *zap.Logger) *Sampler {
	return &Sampler{
		samplingFrequency: samplingFrequency,
		conn:              conn,
		statusSource:      statusSource,
		logger:            logger,
		now:               time.Now,
	}
}

func (s *Sampler) SampleAndLog() {
	influxString := FormatInfluxLine(s.statusSource(), s.now())

	err := s.sendToConn(influxString)
	if err != nil {
		s.logger.Warn("[sampler] error writing data to UDP connection", zap.Error(err))
	} else {
		s.logger.Debug("[sampler] collected sample", zap.String("influxString", influxString))
	}
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SampleAndLog()
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		}
	}
}

// FormatInfluxLine renders status in influx line protocol.
func FormatInfluxLine(status Status, at time.Time) string {
	line := make([]byte, 0, 96)
	line = append(line, SamplingChannelName...)
	line = append(line, " connected="...)
	line = strconv.AppendBool(line, status.Connected)
	line = append(line, ",running="...)
	line = strconv.AppendBool(line, status.Running)
	line = append(line, ",fps="...)
	line = strconv.AppendFloat(line, status.FPS, 'f', 2, 64)
	line = append(line, ",frames="...)
	line = strconv.AppendUint(line, status.Frames, 10)
	line = append(line, 'i', ' ')
	line = strconv.AppendInt(line, at.UnixNano(), 10)
	return string(line)
}

func (s *Sampler) sendToConn(formattedData string) error {
	payload := []byte(formattedData)
	totalWritten := 0
	for totalWritten < len(payload) {
		n, err := s.conn.Write(payload[totalWritten:])
		if err != nil {
			return err
		}
		totalWritten += n
	}

	return nil
}
