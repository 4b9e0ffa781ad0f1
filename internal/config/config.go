package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"sleepywoodpecker/goscope/internal/processing"
	"sleepywoodpecker/goscope/internal/scope"
)

const DEFAULT_BAUDRATE = 115200
const DEFAULT_CODEC = processing.CodecU8
const DEFAULT_READ_TIMEOUT = 5 * time.Millisecond
const DEFAULT_FRAME_TIMEOUT = 2 * time.Second
const DEFAULT_FPS_INTERVAL = 500 * time.Millisecond
const DEFAULT_LOG_FILE_PATH = "goscope.logs"
const DEFAULT_TELEMETRY_INTERVAL = 1 * time.Second
const DEFAULT_RECORDER_QUEUE_LENGTH = 20

type Config struct {
	// Port is connected at startup when set.
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	Codec        string        `yaml:"codec"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`

	Timebase     string `yaml:"timebase"`
	TriggerOn    bool   `yaml:"trigger_on"`
	TriggerSlope string `yaml:"trigger_slope"`

	FpsInterval time.Duration `yaml:"fps_interval"`

	LogFile string `yaml:"log_file"`
	Debug   bool   `yaml:"debug"`

	// Optional outputs. Empty disables them.
	RecordPath          string        `yaml:"record_path"`
	RecorderQueueLength int           `yaml:"recorder_queue_length"`
	TelemetryAddr       string        `yaml:"telemetry_addr"`
	TelemetryInterval   time.Duration `yaml:"telemetry_interval"`
}

func Default() Config {
	return Config{
		BaudRate:            DEFAULT_BAUDRATE,
		Codec:               DEFAULT_CODEC,
		ReadTimeout:         DEFAULT_READ_TIMEOUT,
		FrameTimeout:        DEFAULT_FRAME_TIMEOUT,
		Timebase:            scope.DefaultTimebase,
		TriggerSlope:        string(scope.SlopeRising),
		FpsInterval:         DEFAULT_FPS_INTERVAL,
		LogFile:             DEFAULT_LOG_FILE_PATH,
		RecorderQueueLength: DEFAULT_RECORDER_QUEUE_LENGTH,
		TelemetryInterval:   DEFAULT_TELEMETRY_INTERVAL,
	}
}

// Load reads a YAML file on top of the defaults. A missing file is not an
// error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error

	if c.BaudRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if _, codecErr := processing.NewCodec(c.Codec); codecErr != nil {
		err = multierr.Append(err, codecErr)
	}
	if c.ReadTimeout <= 0 {
		err = multierr.Append(err, errors.New("read_timeout must be positive"))
	}
	if c.FrameTimeout < c.ReadTimeout {
		err = multierr.Append(err, errors.New("frame_timeout must not be shorter than read_timeout"))
	}
	if _, tbErr := scope.ParseTimebase(c.Timebase); tbErr != nil {
		err = multierr.Append(err, tbErr)
	}
	if _, slopeErr := scope.ParseTriggerSlope(c.TriggerSlope); slopeErr != nil {
		err = multierr.Append(err, slopeErr)
	}
	if c.FpsInterval <= 0 {
		err = multierr.Append(err, errors.New("fps_interval must be positive"))
	}
	if c.RecordPath != "" && c.RecorderQueueLength <= 0 {
		err = multierr.Append(err, errors.New("recorder_queue_length must be positive"))
	}
	if c.TelemetryAddr != "" && c.TelemetryInterval <= 0 {
		err = multierr.Append(err, errors.New("telemetry_interval must be positive"))
	}

	return err
}
