/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"context"
	"time"
)

// Credentials are sent as HTTP basic auth. An empty User means anonymous.
type Credentials struct {
	User     string
	Password string
}

func (c Credentials) empty() bool { return c.User == "" && c.Password == "" }

// TLSPolicy controls server certificate verification.
type TLSPolicy struct {
	// InsecureSkipVerify disables peer and host name verification.
	InsecureSkipVerify bool
	// CAFile is a PEM bundle used instead of the system roots.
	CAFile string
}

// Request describes the single GET a transfer performs.
type Request struct {
	URL         string
	Credentials Credentials
	TLS         TLSPolicy
}

// IngestFunc receives downloaded bytes in arrival order. It is only ever
// called from inside Transfer.Pump.
type IngestFunc func(p []byte) (int, error)

// PumpResult reports the outcome of one bounded Pump step.
type PumpResult struct {
	// Progressed is true if the step ingested bytes or changed state.
	Progressed bool
	// Active is false once the transfer has completed, failed or been cancelled.
	Active bool
}

// Status is the final outcome of a transfer.
type Status struct {
	// Code is the HTTP status code, or 0 if no response was received.
	Code         int
	EffectiveURL string
	Meta         Metadata
}

// Success reports whether Code is a 2xx status.
func (s Status) Success() bool { return s.Code >= 200 && s.Code < 300 }

// Engine starts transfers.
type Engine interface {
	// Start issues the request and returns without waiting for data.
	Start(ctx context.Context, req Request, ingest IngestFunc) (Transfer, error)
}

// Transfer is a handle to one in-progress download.
type Transfer interface {
	// Pump performs one bounded step of I/O, waiting at most timeout for
	// something to happen. Ingestion happens on the calling goroutine.
	// A non-nil error is terminal.
	Pump(timeout time.Duration) (PumpResult, error)
	// FinalStatus is meaningful once Pump reports the transfer inactive.
	FinalStatus() Status
	// Cancel stops the transfer. It is idempotent and returns once the
	// transfer no longer touches its resources.
	Cancel()
}
