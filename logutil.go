/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"net/http"
	"net/http/httputil"
	"sync/atomic"

	alog "github.com/anacrolix/log"

	"github.com/ricardobranco777/seekablehttp/internal/logutil"
)

// Logger is a minimal interface for debug/error logging.
type Logger = logutil.Logger

// LogFunc is a function type that implements Logger.
type LogFunc = logutil.LogFunc

// StdLogger returns a logger writing to the standard log package.
func StdLogger() Logger { return logutil.StdLogger() }

// NoopLogger discards all logs.
func NoopLogger() Logger { return logutil.NoopLogger() }

// DefaultLogger returns the logger used until SetLogger is called.
func DefaultLogger() Logger {
	return logutil.Anacrolix(alog.Default.WithNames("seekablehttp"))
}

type loggerBox struct{ Logger }

var pkgLogger atomic.Pointer[loggerBox]

func init() {
	pkgLogger.Store(&loggerBox{DefaultLogger()})
}

// SetLogger sets the package logger. If nil, logs are discarded.
func SetLogger(l Logger) {
	if l == nil {
		l = NoopLogger()
	}
	pkgLogger.Store(&loggerBox{l})
}

func currentLogger() Logger {
	return pkgLogger.Load().Logger
}

// Bodies are never dumped: the response body is the download itself.
func logRequest(l Logger, req *http.Request) {
	if dump, err := httputil.DumpRequestOut(req, false); err == nil {
		l.Debug("", string(dump))
	} else {
		l.Error("Failed to dump request", err)
	}
}

func logResponse(l Logger, resp *http.Response) {
	if dump, err := httputil.DumpResponse(resp, false); err == nil {
		l.Debug("", string(dump))
	} else {
		l.Error("Failed to dump response", err)
	}
}
