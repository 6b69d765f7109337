//go:build unix

/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MmapStore keeps the download in an anonymous memory mapping.
// The mapping is replaced by one twice the size whenever it fills up.
type MmapStore struct {
	data []byte // mmap-backed, len(data) is the capacity
	size int64
}

// NewMmapStore maps an initial region of capacity bytes, rounded up to the page size.
func NewMmapStore(capacity int64) (*MmapStore, error) {
	data, err := mmapAnon(capacity)
	if err != nil {
		return nil, err
	}
	return &MmapStore{data: data}, nil
}

func mmapAnon(capacity int64) ([]byte, error) {
	page := int64(unix.Getpagesize())
	if capacity < page {
		capacity = page
	}
	capacity = (capacity + page - 1) &^ (page - 1)
	data, err := unix.Mmap(
		-1, 0,
		int(capacity),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	return data, nil
}

func (s *MmapStore) grow(need int64) error {
	capacity := int64(len(s.data))
	for capacity < need {
		capacity *= 2
	}
	data, err := mmapAnon(capacity)
	if err != nil {
		return err
	}
	copy(data, s.data[:s.size])
	if err := unix.Munmap(s.data); err != nil {
		unix.Munmap(data)
		return os.NewSyscallError("munmap", err)
	}
	s.data = data
	return nil
}

func (s *MmapStore) Append(p []byte) (int, error) {
	if s.data == nil {
		return 0, errStoreClosed
	}
	if need := s.size + int64(len(p)); need > int64(len(s.data)) {
		if err := s.grow(need); err != nil {
			return 0, err
		}
	}
	n := copy(s.data[s.size:], p)
	s.size += int64(n)
	return n, nil
}

func (s *MmapStore) ReadAt(p []byte, off int64) (int, error) {
	if s.data == nil {
		return 0, errStoreClosed
	}
	if off >= s.size {
		return 0, io.EOF
	}
	return readAtSlice(s.data[:s.size], p, off)
}

func (s *MmapStore) Len() int64 { return s.size }

// Cap returns the size of the current mapping.
func (s *MmapStore) Cap() int64 { return int64(len(s.data)) }

// Close unmaps the memory.
func (s *MmapStore) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return os.NewSyscallError("munmap", err)
	}
	return nil
}

var _ Store = (*MmapStore)(nil)
