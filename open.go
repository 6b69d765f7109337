/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// DefaultPumpTimeout bounds a single wait for transfer progress.
const DefaultPumpTimeout = time.Second

// Options configures Open. The zero value downloads anonymously with
// HTTPEngine into a SpillStore.
type Options struct {
	Credentials Credentials
	TLS         TLSPolicy
	// Engine performs the download. If nil, a zero HTTPEngine is used.
	Engine Engine
	// Store allocates the backing store. If nil, a SpillStore with
	// DefaultSpillThreshold in os.TempDir is used.
	Store StoreFactory
	// PumpTimeout bounds each wait for progress. If <= 0, DefaultPumpTimeout is used.
	PumpTimeout time.Duration
	// Logger receives diagnostics. If nil, the package logger is used.
	Logger Logger
}

func defaultStore() (Store, error) {
	return NewSpillStore(DefaultSpillThreshold, ""), nil
}

// Open starts downloading url and returns a stream over it. It mirrors
// os.Open in spirit: the stream is read-only and must be closed when no
// longer needed. Open does not wait for any data to arrive.
func Open(url string, opts *Options) (*Stream, error) {
	if opts == nil {
		opts = &Options{}
	}
	if url == "" {
		return nil, fmt.Errorf("seekablehttp: empty url: %w", ErrTransferSetupFailed)
	}

	engine := opts.Engine
	if engine == nil {
		engine = &HTTPEngine{}
	}
	newStore := opts.Store
	if newStore == nil {
		newStore = defaultStore
	}
	timeout := opts.PumpTimeout
	if timeout <= 0 {
		timeout = DefaultPumpTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = currentLogger()
	}

	store, err := newStore()
	if err != nil {
		return nil, fmt.Errorf("seekablehttp: allocating store: %w: %w", ErrStorageFault, err)
	}

	s := &stream{
		url:         url,
		store:       store,
		logger:      logger,
		pumpTimeout: timeout,
	}
	req := Request{URL: url, Credentials: opts.Credentials, TLS: opts.TLS}
	s.transfer, err = engine.Start(context.Background(), req, s.ingest)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seekablehttp: GET %s: %w: %w", url, ErrTransferSetupFailed, err)
	}
	s.state = State{Phase: Active}
	transfersStartedTotal.Inc()

	// The transfer holds the inner stream through the ingest callback, so
	// the finalizer is attached to the outer handle.
	f := &Stream{s}
	runtime.SetFinalizer(f, (*Stream).Close)
	return f, nil
}
