/* SPDX-License-Identifier: BSD-2-Clause */

package logutil

import (
	"fmt"
	"log"
	"strings"

	alog "github.com/anacrolix/log"
)

// Logger is a minimal interface for debug/error logging.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogFunc is a function type that implements Logger.
type LogFunc func(level, msg string, args ...any)

func (f LogFunc) Debug(msg string, args ...any) { f("DEBUG", msg, args...) }
func (f LogFunc) Error(msg string, args ...any) { f("ERROR", msg, args...) }

// StdLogger returns a simple logger writing to the standard log package.
func StdLogger() Logger {
	return LogFunc(func(level, msg string, args ...any) {
		log.Printf("%s: %s", level, Join(msg, args...))
	})
}

// NoopLogger discards all logs.
func NoopLogger() Logger { return LogFunc(func(string, string, ...any) {}) }

// Anacrolix adapts an anacrolix/log Logger. DEBUG and ERROR map onto the
// levels of the same name.
func Anacrolix(l alog.Logger) Logger {
	return LogFunc(func(level, msg string, args ...any) {
		lvl := alog.Debug
		if level == "ERROR" {
			lvl = alog.Error
		}
		l.Levelf(lvl, "%s", Join(msg, args...))
	})
}

// Join renders msg followed by args separated by single spaces.
func Join(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}
	s := strings.TrimSuffix(fmt.Sprintln(args...), "\n")
	if msg == "" {
		return s
	}
	return msg + " " + s
}
