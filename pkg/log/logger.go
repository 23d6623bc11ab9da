package log

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "SVCHOST_LOG_LEVEL"
	EnvLogNoColor = "SVCHOST_LOG_NOCOLOR"
)

// Logger is the minimal logging surface taken by servers, clients and hosts.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerolog wraps an existing zerolog logger.
func NewZerolog(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

// NewConsole returns a human readable logger writing to stderr.
func NewConsole(app string) Logger {
	return NewConsoleWriter(os.Stderr, app, false)
}

func NewConsoleWriter(out io.Writer, app string, noColor bool) Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	return NewZerolog(zerolog.New(output).With().Timestamp().Str("app", app).Logger())
}

// NewFromEnv builds a console logger whose level and colouring are taken from
// SVCHOST_LOG_LEVEL and SVCHOST_LOG_NOCOLOR.
func NewFromEnv(app string) Logger {
	noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
	l := NewConsoleWriter(os.Stderr, app, noColor).(*zerologLogger)
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		l.logger = l.logger.Level(lvl)
	} else {
		l.logger = l.logger.Level(zerolog.InfoLevel)
	}
	return l
}

// WithLevel returns a copy of the logger filtered to the given level. Loggers
// not created by this package are returned unchanged.
func WithLevel(l Logger, lvl zerolog.Level) Logger {
	zl, ok := l.(*zerologLogger)
	if !ok {
		return l
	}
	return &zerologLogger{logger: zl.logger.Level(lvl)}
}

func (l *zerologLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *zerologLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *zerologLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *zerologLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "none", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
