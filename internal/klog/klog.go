// Package klog is the kernel's leveled logger. Every component takes a
// *klog.Logger as a constructor dependency instead of calling fmt.Println
// directly, the way the teacher threads a *log.Logger through gcsproxy.
package klog

import (
	"fmt"
	"io"
	"log"
	"sync"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log severity, least to most urgent.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Fatal:
		return "FATAL"
	default:
		return "???"
	}
}

// Logger wraps a stdlib *log.Logger writing onto a rotated sink, standing in
// for the simulated serial console (COM1, see spec §6).
type Logger struct {
	mu       sync.Mutex
	min      Level
	inner    *log.Logger
	onFatal  func()
	rotation io.Closer
}

// Config selects the rotation policy for the serial sink, mirroring the
// fields lumberjack.Logger itself exposes.
type Config struct {
	Path       string // empty means discard rotation, write only to the fallback writer
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	MinLevel   Level
	Fallback   io.Writer // additional destination, e.g. os.Stderr; may be nil
}

// New builds a Logger. If cfg.Path is empty the rotated file sink is skipped
// and only cfg.Fallback (if any) receives output — this is the path the
// kernel's self-tests use, the way gcsproxy.getLogger() falls back to
// ioutil.Discard when -gcsproxy.debug is unset.
func New(cfg Config) *Logger {
	var w io.Writer
	var rot io.Closer
	if cfg.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		rot = lj
		w = lj
	}
	if cfg.Fallback != nil {
		if w != nil {
			w = io.MultiWriter(w, cfg.Fallback)
		} else {
			w = cfg.Fallback
		}
	}
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		min:      cfg.MinLevel,
		inner:    log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		rotation: rot,
	}
}

// Discard is a Logger that drops everything; used as a default for
// components constructed without an explicit logger in tests.
func Discard() *Logger { return New(Config{MinLevel: Fatal + 1}) }

func (l *Logger) log(level Level, component, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.Printf("[%s] %s: %s", level, component, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.log(Debug, component, format, args...)
}

func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.log(Info, component, format, args...)
}

func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.log(Warn, component, format, args...)
}

// Fatalf logs at Fatal and returns; it does not call os.Exit or any hook.
// Terminating the process is left to the caller (cmd/kernel calls os.Exit
// right after each Fatalf).
func (l *Logger) Fatalf(component, format string, args ...interface{}) {
	l.log(Fatal, component, format, args...)
}

// Close releases the rotation handle, if any.
func (l *Logger) Close() error {
	if l.rotation != nil {
		return l.rotation.Close()
	}
	return nil
}
