// Package logger provides process-wide structured logging for pimidbox.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var globalLogger zerolog.Logger

func init() {
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// InitLogger configures the global logger at the given level.
// Any level name zerolog.ParseLevel accepts is valid (debug, info,
// warn, error, and also trace, fatal, panic, disabled); an empty or
// unknown name is a configuration error and is fatal at load time.
func InitLogger(level string) error {
	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || zlevel == zerolog.NoLevel {
		return fmt.Errorf("invalid log level: %s", level)
	}

	zerolog.SetGlobalLevel(zlevel)
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zlevel)
	return nil
}

// GetLogger returns the process-wide logger.
func GetLogger() *zerolog.Logger {
	return &globalLogger
}

// Component returns a child logger tagging every line with a component
// name, so router, clock and registry output can be told apart on one stream.
func Component(name string) zerolog.Logger {
	return globalLogger.With().Str("component", name).Logger()
}
