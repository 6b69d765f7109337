/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Phase is the lifecycle stage of a stream's transfer.
type Phase int

const (
	NotStarted Phase = iota
	Active
	Finished
	Failed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not started"
	case Active:
		return "active"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// State is the transfer state. Code is set for Finished, Err for Failed.
type State struct {
	Phase Phase
	Code  int
	Err   error
}

// Terminal reports whether no more bytes will arrive.
func (s State) Terminal() bool { return s.Phase == Finished || s.Phase == Failed }

func (s State) String() string {
	switch s.Phase {
	case Finished:
		return fmt.Sprintf("finished (%d)", s.Code)
	case Failed:
		return fmt.Sprintf("failed (%v)", s.Err)
	}
	return s.Phase.String()
}

// Stream provides seekable, random-access reads over a single streaming
// download. Bytes are kept in a backing Store as they arrive; calls block
// only until the bytes they need are present or the transfer has ended.
//
// A Stream is meant for a single consumer goroutine. The engine holds
// only the inner state, so an unreferenced Stream is closed by a finalizer.
type Stream struct {
	*stream
}

type stream struct {
	url         string
	store       Store
	transfer    Transfer
	logger      Logger
	pumpTimeout time.Duration

	// received is written only by ingest, after the bytes are in store.
	received atomic.Int64
	pos      int64
	state    State
	status   Status
	reported bool
	closed   bool
}

func (s *stream) ingest(p []byte) (int, error) {
	if s.state.Phase != Active {
		return 0, fmt.Errorf("seekablehttp: ingest while %s", s.state.Phase)
	}
	n, err := s.store.Append(p)
	if n > 0 {
		s.received.Add(int64(n))
		bytesIngestedTotal.Add(float64(n))
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, fmt.Errorf("seekablehttp: appending %d bytes at %d: %w: %w", len(p), s.received.Load(), ErrStorageFault, err)
	}
	return n, nil
}

// ensureAvailable pumps the transfer until the byte at target has been
// received or the transfer is no longer active. Only ctx errors are
// returned; transfer failures are recorded in the state.
func (s *stream) ensureAvailable(ctx context.Context, target int64) error {
	if s.state.Phase != Active || target < s.received.Load() {
		return nil
	}
	start := time.Now()
	defer func() { pumpWaitSeconds.Observe(time.Since(start).Seconds()) }()

	for target >= s.received.Load() && s.state.Phase == Active {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.transfer.Pump(s.pumpTimeout)
		if err != nil {
			s.fail(err)
			return nil
		}
		if !res.Active {
			s.finish()
		}
	}
	return nil
}

func (s *stream) finish() {
	s.status = s.transfer.FinalStatus()
	s.state = State{Phase: Finished, Code: s.status.Code}
	transfersEndedTotal.WithLabelValues("finished").Inc()
	s.logger.Debug(fmt.Sprintf("GET %s finished with %d after %s", s.status.EffectiveURL, s.status.Code, humanize.Bytes(uint64(s.received.Load()))))
	s.report()
}

func (s *stream) fail(err error) {
	if !errors.Is(err, ErrTransferFailed) && !errors.Is(err, ErrStorageFault) {
		err = fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	s.status = s.transfer.FinalStatus()
	s.state = State{Phase: Failed, Code: s.status.Code, Err: err}
	transfersEndedTotal.WithLabelValues("failed").Inc()
	s.logger.Error(fmt.Sprintf("GET %s failed after %s: %v", s.status.EffectiveURL, humanize.Bytes(uint64(s.received.Load())), err))
	s.report()
}

// report logs a non-2xx status once. The bytes already delivered stay valid.
func (s *stream) report() {
	if s.reported || s.status.Code == 0 || s.status.Success() {
		return
	}
	s.reported = true
	s.logger.Error(fmt.Sprintf("GET %s returned status code %d", s.status.EffectiveURL, s.status.Code))
}

// endErr is the error for a request that starts at or past the end of a
// terminated transfer.
func (s *stream) endErr() error {
	if s.state.Phase == Failed {
		return fmt.Errorf("seekablehttp: %w", s.state.Err)
	}
	return io.EOF
}

func (s *stream) copyAt(p []byte, off int64) (int, error) {
	avail := min(int64(len(p)), s.received.Load()-off)
	if avail <= 0 {
		return 0, s.endErr()
	}
	n, err := s.store.ReadAt(p[:avail], off)
	if int64(n) != avail {
		return n, fmt.Errorf("seekablehttp: read %d of %d bytes at %d: %w (%v)", n, avail, off, ErrStorageFault, err)
	}
	return n, nil
}

// Read reads from the cursor and advances it. It blocks until len(p)
// bytes are available or the transfer ends, and may return fewer bytes
// than requested. At the end of a finished transfer it returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is like Read but gives up waiting when ctx is done.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.ensureAvailable(ctx, s.pos+int64(len(p))-1); err != nil {
		return 0, err
	}
	n, err := s.copyAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// ReadAt implements io.ReaderAt over the download. It does not move the cursor.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is like ReadAt but gives up waiting when ctx is done.
func (s *Stream) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidSeek
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.ensureAvailable(ctx, off+int64(len(p))-1); err != nil {
		return 0, err
	}
	n, err := s.copyAt(p, off)
	if err == nil && n < len(p) {
		err = s.endErr()
	}
	return n, err
}

// Seek implements io.Seeker. io.SeekEnd waits for the whole transfer.
// A target must hold a received byte, except that the end itself is
// accepted in every mode once the transfer is terminal, as with os.File.
// A target past the end of a terminated transfer fails with
// ErrSeekOutOfRange and leaves the cursor where it was.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.SeekContext(context.Background(), offset, whence)
}

// SeekContext is like Seek but gives up waiting when ctx is done.
func (s *Stream) SeekContext(ctx context.Context, offset int64, whence int) (int64, error) {
	if s.closed {
		return s.pos, ErrClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		if err := s.ensureAvailable(ctx, math.MaxInt64); err != nil {
			return s.pos, err
		}
		target = s.received.Load() + offset
	default:
		return s.pos, ErrInvalidSeek
	}
	if target < 0 {
		return s.pos, ErrInvalidSeek
	}

	if err := s.ensureAvailable(ctx, target); err != nil {
		return s.pos, err
	}
	received := s.received.Load()
	if target < received || (target == received && s.state.Terminal()) {
		s.pos = target
		return target, nil
	}
	if s.state.Phase == Failed {
		return s.pos, fmt.Errorf("seekablehttp: seek to %d: %w", target, s.state.Err)
	}
	return s.pos, fmt.Errorf("seekablehttp: seek to %d past end %d: %w", target, received, ErrSeekOutOfRange)
}

// Tell returns the cursor.
func (s *Stream) Tell() int64 { return s.pos }

// EOF reports whether the cursor is at or past the end of a transfer that
// is no longer active. It may block waiting for the byte at the cursor.
func (s *Stream) EOF() bool {
	if s.closed {
		return true
	}
	s.ensureAvailable(context.Background(), s.pos)
	return s.pos >= s.received.Load() && s.state.Phase != Active
}

// Len returns the number of bytes received so far. It is safe to call
// from any goroutine.
func (s *Stream) Len() int64 { return s.received.Load() }

// Size returns the total length once the transfer has ended.
func (s *Stream) Size() (int64, bool) {
	return s.received.Load(), s.state.Terminal()
}

// State returns the transfer state.
func (s *Stream) State() State { return s.state }

// Status returns the final status of the transfer. It is only meaningful
// once the state is terminal.
func (s *Stream) Status() Status { return s.status }

// URL returns the URL the stream was opened with.
func (s *Stream) URL() string { return s.url }

func (s *stream) close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	wasActive := s.state.Phase == Active
	s.transfer.Cancel()
	if wasActive {
		s.status = s.transfer.FinalStatus()
		s.state = State{Phase: Failed, Code: s.status.Code, Err: ErrClosed}
		transfersEndedTotal.WithLabelValues("cancelled").Inc()
		s.logger.Debug(fmt.Sprintf("GET %s cancelled after %s", s.status.EffectiveURL, humanize.Bytes(uint64(s.received.Load()))))
		s.report()
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("seekablehttp: closing store: %w", err)
	}
	return nil
}

// Close cancels the transfer if it is still running and releases the
// backing store. It is safe to call more than once.
func (s *Stream) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.stream.close()
}
