package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Everything goes to logFilePath as JSON,
// and to stderr so the console shows warnings while the scope is running.
func NewLogger(logFilePath string) (*zap.Logger, error) {
	return newLogger(logFilePath, zapcore.InfoLevel)
}

// NewDebugLogger is NewLogger with debug level enabled, which logs every
// acquired frame.
func NewDebugLogger(logFilePath string) (*zap.Logger, error) {
	return newLogger(logFilePath, zapcore.DebugLevel)
}

func newLogger(logFilePath string, level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logFilePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFilePath)
	}

	return cfg.Build()
}
