// Package journal is a small leveled logger shared by every rank of a run.
package journal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int32

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// ParseLevel accepts debug, info, warn or error (case insensitive)
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("unknown log level %q", s)
}

const (
	ShowTimestamp = 1 << iota
)

// sink is shared between a logger and the children created by WithPrefix
type sink struct {
	sync.Mutex
	w     io.Writer
	buf   []byte
	t0    time.Time
	level Level
	flags uint32
}

type Logger struct {
	*sink
	prefix string
}

var std = New(os.Stdout)

func New(w io.Writer) *Logger {
	return &Logger{
		sink: &sink{
			w:     w,
			t0:    time.Now(),
			level: Info,
		},
	}
}

// WithPrefix returns a logger writing to the same sink with an extra
// prefix in front of every message, e.g. "rank 1/4:".
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{sink: l.sink, prefix: l.prefix + prefix + " "}
}

func fmtDuration(d time.Duration) string {
	n := int64(d / time.Second)
	ss := n % 60
	n /= 60
	mm := n % 60
	n /= 60
	hh := n % 24
	n /= 24
	ns := int64(d % time.Second)
	return fmt.Sprintf("%dd %02d:%02d:%02d %6.2fms", n, hh, mm, ss, float64(ns)/float64(time.Millisecond))
}

func (l *Logger) output(tag, format string, v ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.buf = l.buf[:0]
	l.buf = append(l.buf, tag...)
	if l.flags&ShowTimestamp != 0 {
		l.buf = append(l.buf, ' ', '[')
		l.buf = append(l.buf, fmtDuration(time.Since(l.t0))...)
		l.buf = append(l.buf, ']', ' ')
	} else {
		l.buf = append(l.buf, ' ')
	}
	l.buf = append(l.buf, l.prefix...)
	s := fmt.Sprintf(format, v...)
	l.buf = append(l.buf, s...)
	if len(s) == 0 || s[len(s)-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
	l.w.Write(l.buf)
}

func (l *Logger) logf(level Level, tag, format string, v ...interface{}) {
	l.Lock()
	enabled := level >= l.level
	l.Unlock()
	if enabled {
		l.output(tag, format, v...)
	}
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(Debug, "[D]", format, v...) }

func (l *Logger) Infof(format string, v ...interface{}) { l.logf(Info, "[I]", format, v...) }

func (l *Logger) Warnf(format string, v ...interface{}) { l.logf(Warn, "[W]", format, v...) }

func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(Error, "[E]", format, v...) }

// Exitf logs at error level and terminates the process with status 1
func (l *Logger) Exitf(format string, v ...interface{}) {
	l.logf(Error, "[F]", format, v...)
	os.Exit(1)
}

func (l *Logger) SetOutput(w io.Writer) {
	l.Lock()
	defer l.Unlock()
	l.w = w
}

func (l *Logger) SetLevel(level Level) {
	l.Lock()
	defer l.Unlock()
	l.level = level
}

func (l *Logger) SetFlags(flags uint32) {
	l.Lock()
	defer l.Unlock()
	l.flags = flags
}

// Default returns the package level logger
func Default() *Logger { return std }

func SetOutput(w io.Writer) { std.SetOutput(w) }

func SetLevel(level Level) { std.SetLevel(level) }

func SetFlags(flags uint32) { std.SetFlags(flags) }

func Debugf(format string, v ...interface{}) { std.Debugf(format, v...) }

func Infof(format string, v ...interface{}) { std.Infof(format, v...) }

func Warnf(format string, v ...interface{}) { std.Warnf(format, v...) }

func Errorf(format string, v ...interface{}) { std.Errorf(format, v...) }

func Exitf(format string, v ...interface{}) { std.Exitf(format, v...) }
