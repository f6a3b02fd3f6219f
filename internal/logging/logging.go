// Package logging builds the zap loggers used by synowatch.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name to a zap level. WARNING and WARN are
// synonyms; names are case-insensitive.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return zap.ErrorLevel, nil
	case "WARNING", "WARN":
		return zap.WarnLevel, nil
	case "", "INFO":
		return zap.InfoLevel, nil
	case "DEBUG":
		return zap.DebugLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// New creates a logger for the named level. Output goes to file, or to
// stderr when file is empty.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	if lvl == zap.DebugLevel {
		// Development config for more detailed debug output
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Sampling = nil
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.DisableStacktrace = lvl != zap.DebugLevel

	if file != "" {
		config.OutputPaths = []string{file}
		config.ErrorOutputPaths = []string{file}
	} else {
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
