package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	Critical = 50
	Fatal    = Critical
	Error    = 40
	Warning  = 30
	Info     = 20
	Debug    = 10
	NotSet   = 0
)

var (
	LogLevel      int = Warning
	logLevelMutex sync.Mutex

	base = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.WarnLevel)
)

func init() {
	localEnv := os.Getenv("LOCAL")
	if strings.ToLower(localEnv) == "true" || localEnv == "1" {
		SetLogLevel(Debug)
	}
}

// SetOutput redirects all log output, mostly useful in tests
func SetOutput(w io.Writer) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger().Level(toZerolog(LogLevel))
}

func SetLogLevel(level int) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	LogLevel = level
	base = base.Level(toZerolog(level))
}

// ParseLevel maps LOG_LEVEL values (debug, info, warn, error, critical) to a level.
// Unknown values map to Warning.
func ParseLevel(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Warning
	}
}

func toZerolog(level int) zerolog.Level {
	switch {
	case level <= NotSet:
		return zerolog.TraceLevel
	case level <= Debug:
		return zerolog.DebugLevel
	case level <= Info:
		return zerolog.InfoLevel
	case level <= Warning:
		return zerolog.WarnLevel
	case level <= Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

func current() zerolog.Logger {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	return base
}

// Component returns a structured logger tagged with the component name
func Component(name string) zerolog.Logger {
	l := current()
	return l.With().Str("component", name).Logger()
}

func Debugf(format string, v ...interface{}) {
	l := current()
	l.Debug().Msgf(format, v...)
}

func Infof(format string, v ...interface{}) {
	l := current()
	l.Info().Msgf(format, v...)
}

func Warningf(format string, v ...interface{}) {
	l := current()
	l.Warn().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	l := current()
	l.Error().Msgf(format, v...)
}

func Criticalf(format string, v ...interface{}) {
	l := current()
	l.WithLevel(zerolog.FatalLevel).Msgf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	l := current()
	l.Fatal().Msgf(format, v...)
}
