/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Store is an append-only random-access byte store holding a download
// from offset 0. ReadAt beyond Len returns io.EOF.
type Store interface {
	io.ReaderAt
	io.Closer
	Append(p []byte) (int, error)
	Len() int64
}

// StoreFactory allocates a fresh Store for a stream.
type StoreFactory func() (Store, error)

// DefaultSpillThreshold is the amount of data kept in memory before a
// spill store moves to a temporary file.
const DefaultSpillThreshold = 2 << 20

var errStoreClosed = errors.New("store closed")

func readAtSlice(data []byte, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// MemoryStore keeps everything in a growable slice.
type MemoryStore struct {
	data   []byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(p []byte) (int, error) {
	if s.closed {
		return 0, errStoreClosed
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *MemoryStore) ReadAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, errStoreClosed
	}
	return readAtSlice(s.data, p, off)
}

func (s *MemoryStore) Len() int64 { return int64(len(s.data)) }

func (s *MemoryStore) Close() error {
	s.closed = true
	s.data = nil
	return nil
}

// FileStore spills to an anonymous temporary file that is removed on Close.
type FileStore struct {
	file *os.File
	size int64
}

// NewFileStore creates the temporary file in dir, or os.TempDir if empty.
func NewFileStore(dir string) (*FileStore, error) {
	f, err := os.CreateTemp(dir, "seekablehttp-*")
	if err != nil {
		return nil, err
	}
	return &FileStore{file: f}, nil
}

func (s *FileStore) Append(p []byte) (int, error) {
	if s.file == nil {
		return 0, errStoreClosed
	}
	n, err := s.file.WriteAt(p, s.size)
	s.size += int64(n)
	return n, err
}

func (s *FileStore) ReadAt(p []byte, off int64) (int, error) {
	if s.file == nil {
		return 0, errStoreClosed
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if rem := s.size - off; int64(len(p)) > rem {
		n, err := s.file.ReadAt(p[:rem], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.file.ReadAt(p, off)
}

func (s *FileStore) Len() int64 { return s.size }

func (s *FileStore) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	s.file = nil
	return errors.Join(err, os.Remove(name))
}

// SpillStore keeps data in memory up to a threshold, then moves
// everything to a FileStore.
type SpillStore struct {
	threshold int64
	dir       string
	mem       *MemoryStore
	file      *FileStore
}

// NewSpillStore returns a store that spills past threshold bytes into a
// temporary file in dir. A threshold <= 0 uses DefaultSpillThreshold.
func NewSpillStore(threshold int64, dir string) *SpillStore {
	if threshold <= 0 {
		threshold = DefaultSpillThreshold
	}
	return &SpillStore{threshold: threshold, dir: dir, mem: NewMemoryStore()}
}

// Spilled reports whether the store has moved to disk.
func (s *SpillStore) Spilled() bool { return s.file != nil }

func (s *SpillStore) active() Store {
	if s.file != nil {
		return s.file
	}
	return s.mem
}

func (s *SpillStore) Append(p []byte) (int, error) {
	if s.file == nil && s.mem.Len()+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	return s.active().Append(p)
}

func (s *SpillStore) spill() error {
	if s.mem.closed {
		return errStoreClosed
	}
	f, err := NewFileStore(s.dir)
	if err != nil {
		return fmt.Errorf("spill: %w", err)
	}
	if _, err := f.Append(s.mem.data); err != nil {
		f.Close()
		return fmt.Errorf("spill: %w", err)
	}
	s.mem.Close()
	s.file = f
	return nil
}

func (s *SpillStore) ReadAt(p []byte, off int64) (int, error) { return s.active().ReadAt(p, off) }

func (s *SpillStore) Len() int64 { return s.active().Len() }

func (s *SpillStore) Close() error {
	s.mem.Close()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*SpillStore)(nil)
)
