package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/gommon/log"
)

// Logger is the leveled logging surface components depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const header = `${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`

// New returns a gommon logger writing to w at the given level (debug|info|warn|error|off).
func New(prefix, level string, w io.Writer) (*log.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetLevel(lvl)
	if w != nil {
		l.SetOutput(w)
	}
	return l, nil
}

// ParseLevel maps a level name to a gommon level.
func ParseLevel(s string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	default:
		return log.OFF, fmt.Errorf("unknown log level %q", s)
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() Logger {
	l := log.New("-")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}
