// Package logger configures the zap logger used by the command line tool
// and adapts it to the Logger interface of the library packages.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger instance. It discards everything until
// InitLogger is called.
var Logger = zap.NewNop().Sugar()

// LoggerConfig contains configuration for the logger
type LoggerConfig struct {
	Debug     bool   // Enable debug level logging
	LogFormat string // "json" or "human"
	LogFile   string // Path to log file (optional)
}

// DefaultConfig returns a default configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Debug:     false,
		LogFormat: "human",
	}
}

// InitLogger initializes the logger with the provided configuration. Logs
// go to stderr so command output on stdout stays machine readable.
func InitLogger(config LoggerConfig) error {
	var zapConfig zap.Config

	switch config.LogFormat {
	case "json":
		zapConfig = zap.NewProductionConfig()
	case "human", "":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.DisableStacktrace = true
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		return fmt.Errorf("unknown log format %q: want json or human", config.LogFormat)
	}

	outputPaths := []string{"stderr"}
	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		outputPaths = append(outputPaths, config.LogFile)
	}
	zapConfig.OutputPaths = outputPaths

	if config.Debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	Logger = logger.Sugar()
	return nil
}

// Adapter implements the Logger interface of the fastboot and flash
// packages on top of a SugaredLogger.
type Adapter struct {
	S *zap.SugaredLogger
}

// NewAdapter returns an Adapter for s, or for the global Logger when s is nil.
func NewAdapter(s *zap.SugaredLogger) *Adapter {
	if s == nil {
		s = Logger
	}
	return &Adapter{S: s}
}

func (a *Adapter) Debug(msg string, keysAndValues ...interface{}) {
	a.S.Debugw(msg, keysAndValues...)
}

func (a *Adapter) Info(msg string, keysAndValues ...interface{}) {
	a.S.Infow(msg, keysAndValues...)
}

func (a *Adapter) Error(msg string, keysAndValues ...interface{}) {
	a.S.Errorw(msg, keysAndValues...)
}

// LogError logs err with message and optional fields.
func LogError(message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["error"] = err.Error()
	Logger.Errorw(message, flattenFields(fields)...)
}

// WithField returns a logger with a field added to every log
func WithField(key string, value interface{}) *zap.SugaredLogger {
	return Logger.With(key, value)
}

func flattenFields(fields map[string]interface{}) []interface{} {
	var flat []interface{}
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	return flat
}

// Sync flushes any buffered log entries
func Sync() error {
	return Logger.Sync()
}
