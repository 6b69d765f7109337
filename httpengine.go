/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/anacrolix/chansync"
	"golang.org/x/time/rate"
)

const (
	// DefaultChunkSize is the size of each body read handed to the stream.
	DefaultChunkSize = 32 << 10
	maxRedirects     = 10
)

// HTTPEngine runs each transfer as a single streaming GET. The zero value
// is ready to use.
type HTTPEngine struct {
	// Client is the base client. If nil, http.DefaultClient is used.
	Client *http.Client
	// ChunkSize bounds each body read. If <= 0, DefaultChunkSize is used.
	ChunkSize int
	// RateLimit caps the download rate in bytes per second. 0 means unlimited.
	RateLimit rate.Limit
	// Logger receives request and response dumps. If nil, the package logger is used.
	Logger Logger
	// DiscardErrorBodies drops the body of non-2xx responses instead of
	// delivering it to the stream.
	DiscardErrorBodies bool
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported protocol %q", req.URL.Scheme)
	}
	return nil
}

func (e *HTTPEngine) client(policy TLSPolicy) (*http.Client, error) {
	base := e.Client
	if base == nil {
		base = http.DefaultClient
	}
	c := *base
	if next := c.CheckRedirect; next != nil {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if err := checkRedirect(req, via); err != nil {
				return err
			}
			return next(req, via)
		}
	} else {
		c.CheckRedirect = checkRedirect
	}
	if policy == (TLSPolicy{}) {
		return &c, nil
	}

	rt := c.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	tr, ok := rt.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("tls policy needs an *http.Transport, got %T", rt)
	}
	tr = tr.Clone()
	cfg := &tls.Config{}
	if tr.TLSClientConfig != nil {
		cfg = tr.TLSClientConfig.Clone()
	}
	cfg.InsecureSkipVerify = policy.InsecureSkipVerify
	if policy.CAFile != "" {
		pem, err := os.ReadFile(policy.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", policy.CAFile)
		}
		cfg.RootCAs = pool
	}
	tr.TLSClientConfig = cfg
	c.Transport = tr
	return &c, nil
}

// Start validates the request and issues the GET on a new goroutine.
func (e *HTTPEngine) Start(ctx context.Context, req Request, ingest IngestFunc) (Transfer, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported protocol %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", req.URL)
	}

	client, err := e.client(req.TLS)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if !req.Credentials.empty() {
		hreq.SetBasicAuth(req.Credentials.User, req.Credentials.Password)
	}

	chunk := e.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	var limiter *rate.Limiter
	if e.RateLimit > 0 {
		limiter = rate.NewLimiter(e.RateLimit, max(chunk, int(e.RateLimit)))
	}
	logger := e.Logger
	if logger == nil {
		logger = currentLogger()
	}

	t := &httpTransfer{
		ctx:     ctx,
		cancel:  cancel,
		ingest:  ingest,
		events:  make(chan httpEvent, 16),
		limiter: limiter,
		chunk:   chunk,
		logger:  logger,
		status:  Status{EffectiveURL: u.String()},

		discardErrors: e.DiscardErrorBodies,
	}
	go t.run(client, hreq)
	return t, nil
}

type httpEvent struct {
	data   []byte
	status *Status
	err    error
	done   bool
}

// httpTransfer moves the response body from the network goroutine to
// the consumer. Everything except events, ctx and the SetOnce flags is
// owned by the goroutine calling Pump and Cancel.
type httpTransfer struct {
	ctx       context.Context
	cancel    context.CancelFunc
	ingest    IngestFunc
	events    chan httpEvent
	limiter   *rate.Limiter
	chunk     int
	logger    Logger
	cancelled chansync.SetOnce
	exited    chansync.SetOnce

	discardErrors bool

	status Status
	done   bool
	err    error
}

// send returns false once the transfer has been cancelled.
func (t *httpTransfer) send(ev httpEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.cancelled.Done():
		return false
	}
}

func (t *httpTransfer) run(client *http.Client, req *http.Request) {
	defer t.exited.Set()

	logRequest(t.logger, req)
	resp, err := client.Do(req)
	if err != nil {
		t.send(httpEvent{err: err})
		return
	}
	defer resp.Body.Close()
	logResponse(t.logger, resp)

	status := Status{
		Code:         resp.StatusCode,
		EffectiveURL: resp.Request.URL.String(),
		Meta:         FromHeaders(resp.Header),
	}
	if !t.send(httpEvent{status: &status}) {
		return
	}
	if !status.Success() && t.discardErrors {
		t.send(httpEvent{done: true})
		return
	}

	for {
		buf := make([]byte, t.chunk)
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if t.limiter != nil {
				if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
					t.send(httpEvent{err: werr})
					return
				}
			}
			if !t.send(httpEvent{data: buf[:n]}) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			t.send(httpEvent{done: true})
			return
		}
		if err != nil {
			t.send(httpEvent{err: err})
			return
		}
	}
}

func (t *httpTransfer) handle(ev httpEvent) error {
	switch {
	case ev.err != nil:
		t.done = true
		t.err = fmt.Errorf("%w: %w", ErrTransferFailed, ev.err)
		return t.err
	case ev.status != nil:
		t.status = *ev.status
	case ev.done:
		t.done = true
	default:
		n, err := t.ingest(ev.data)
		if err == nil && n != len(ev.data) {
			err = io.ErrShortWrite
		}
		if err != nil {
			t.done = true
			t.err = err
			t.stop()
			return err
		}
	}
	return nil
}

// Pump waits up to timeout for the first event, then handles every event
// that is already queued.
func (t *httpTransfer) Pump(timeout time.Duration) (PumpResult, error) {
	if t.done || t.cancelled.IsSet() {
		return PumpResult{}, nil
	}
	if timeout <= 0 {
		timeout = DefaultPumpTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-t.events:
		if err := t.handle(ev); err != nil {
			return PumpResult{Progressed: true}, err
		}
	case <-timer.C:
		return PumpResult{Active: true}, nil
	}

	for !t.done {
		select {
		case ev := <-t.events:
			if err := t.handle(ev); err != nil {
				return PumpResult{Progressed: true}, err
			}
		default:
			return PumpResult{Progressed: true, Active: true}, nil
		}
	}
	return PumpResult{Progressed: true}, nil
}

func (t *httpTransfer) FinalStatus() Status { return t.status }

func (t *httpTransfer) stop() {
	t.cancelled.Set()
	t.cancel()
}

func (t *httpTransfer) Cancel() {
	t.stop()
	<-t.exited.Done()
	t.done = true
}
