// Package vfstest provides an in-memory backing device for exercising the
// image format, allocator, block map, file stream, and directory layers
// without touching the filesystem. It mirrors the role of
// dargueta/disko/testing: a byte slice wrapped so product code can treat it
// like any other image.
package vfstest

import (
	"fmt"
	"io"
	"sync"

	"github.com/xaionaro-go/bytesextra"
)

// MemoryDevice is a fixed-size in-memory stand-in for an *os.File, exposing
// the same positional ReaderAt/WriterAt surface the image package needs.
// Positional access is synthesized from a single shared io.ReadWriteSeeker
// the same way dargueta/disko's BlockStream turns a seekable stream into a
// block-addressable one: lock, seek, then read or write.
type MemoryDevice struct {
	mu  sync.Mutex
	rw  io.ReadWriteSeeker
	buf []byte
}

// NewMemoryDevice allocates a zero-filled in-memory device of the given
// size.
func NewMemoryDevice(size int64) *MemoryDevice {
	buf := make([]byte, size)
	return &MemoryDevice{rw: bytesextra.NewReadWriteSeeker(buf), buf: buf}
}

// NewMemoryDeviceFromBytes wraps an existing byte slice, letting a test
// construct a device with a specific (possibly corrupted) starting state.
func NewMemoryDeviceFromBytes(data []byte) *MemoryDevice {
	return &MemoryDevice{rw: bytesextra.NewReadWriteSeeker(data), buf: data}
}

func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.rw.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(d.rw, p)
}

func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.rw.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return d.rw.Write(p)
}

// Sync is a no-op; there's no host filesystem buffering to flush.
func (d *MemoryDevice) Sync() error {
	return nil
}

// Truncate rejects any attempt to resize: image size is fixed at Create
// time, and nothing in this module ever grows or shrinks the image itself.
func (d *MemoryDevice) Truncate(size int64) error {
	if size == int64(len(d.buf)) {
		return nil
	}
	return fmt.Errorf("memory device is fixed at %d bytes, can't truncate to %d", len(d.buf), size)
}

// Bytes returns the live backing slice, mainly so tests can assert on exact
// on-disk contents.
func (d *MemoryDevice) Bytes() []byte {
	return d.buf
}
