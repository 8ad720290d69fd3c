package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string // debug, info, warn, error
	OutputPath string // stdout, stderr, or file path
	Format     string // json or console
	// Service, when set, is attached to every entry
	Service string
}

// NewLogger builds a zap logger. An unknown level falls back to info; an
// unknown format is an error.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Format != "" && cfg.Format != "json" && cfg.Format != "console" {
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	sink, tty, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	enc, err := newEncoder(cfg.Format, tty)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	return zap.New(zapcore.NewCore(enc, sink, level), opts...), nil
}

// openSink resolves the output path. tty is true for the standard streams.
func openSink(path string) (sink zapcore.WriteSyncer, tty bool, err error) {
	switch path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), true, nil
	case "stderr":
		return zapcore.Lock(os.Stderr), true, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(f), false, nil
}

func newEncoder(format string, color bool) (zapcore.Encoder, error) {
	switch format {
	case "", "json":
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		if color {
			ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return zapcore.NewConsoleEncoder(ec), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}
