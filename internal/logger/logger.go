// Package logger builds the zap loggers used across otlp-charts.
package logger

import (
	"fmt"
	"strings"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option customizes the zap configuration.
type Option func(*zap.Config)

// WithLevel sets the minimum enabled level.
func WithLevel(level zapcore.Level) Option {
	return func(c *zap.Config) {
		c.Level = zap.NewAtomicLevelAt(level)
	}
}

// WithEncoding selects "json" or "console" output.
func WithEncoding(encoding string) Option {
	return func(c *zap.Config) {
		c.Encoding = encoding
		if encoding == "console" {
			c.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		}
	}
}

// WithEncoderConfig replaces the encoder configuration.
func WithEncoderConfig(ec zapcore.EncoderConfig) Option {
	return func(c *zap.Config) {
		c.EncoderConfig = ec
	}
}

// WithOutputPaths sets where log lines are written.
func WithOutputPaths(paths ...string) Option {
	return func(c *zap.Config) {
		c.OutputPaths = paths
	}
}

// New returns a logger. Logs go to stderr by default so they never mix with
// an MCP stdio stream. JSON output is wrapped in an ECS core.
func New(opts ...Option) (*zap.SugaredLogger, error) {
	conf := zap.NewProductionConfig()
	conf.OutputPaths = []string{"stderr"}
	conf.Sampling = nil

	for _, opt := range opts {
		opt(&conf)
	}

	var zopts []zap.Option
	if conf.Encoding == "json" {
		zopts = append(zopts, ecszap.WrapCoreOption())
	}
	zopts = append(zopts, zap.AddCaller())

	logger, err := conf.Build(zopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// ParseLogLevel parses s as a log level name. "off" maps above fatal so
// nothing is logged.
func ParseLogLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "critical":
		return zapcore.FatalLevel, nil
	case "off":
		return zapcore.FatalLevel + 1, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level string %s", s)
}
