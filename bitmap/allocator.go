// Package bitmap implements the first-fit bitmap allocator shared by the
// inode bitmap and the data bitmap. It never holds the bitmap resident:
// every call scans the backing region directly in bounded chunks, which
// keeps the allocator's memory footprint independent of image size.
package bitmap

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"

	ferrors "github.com/nullpointer-fs/imagevfs/errors"
)

// scanChunkSize bounds the number of bytes read per I/O call while
// searching for a free bit, per the storage engine's buffered-scan design.
const scanChunkSize = 512

// Device is the minimal positional I/O surface the allocator needs. A
// *os.File satisfies this directly via pread/pwrite, so no shared seek
// cursor is ever involved.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Allocator manages a contiguous byte region [start, start+length) of a
// Device as a bit-per-object allocation map, where bit i of byte j
// represents object ID 8j+i.
type Allocator struct {
	device Device
	start  int64
	length int64
}

// New creates an Allocator over the byte range [start, start+length) of
// device.
func New(device Device, start, length int64) *Allocator {
	return &Allocator{device: device, start: start, length: length}
}

// Bits returns the number of object IDs this allocator addresses.
func (a *Allocator) Bits() uint32 {
	return uint32(a.length) * 8
}

// AllocateBit finds the lowest-indexed clear bit in the region, sets it, and
// returns its index. Within a 512-byte scan buffer, bytes are scanned low to
// high and, within a byte, bits low to high (bit 0 is the least significant
// bit); the byte is fast-skipped entirely when it reads as 0xFF. It fails
// with ErrExhausted if every bit in the region is already set.
func (a *Allocator) AllocateBit() (uint32, error) {
	buf := make([]byte, scanChunkSize)

	for chunkOffset := int64(0); chunkOffset < a.length; chunkOffset += scanChunkSize {
		toRead := int64(scanChunkSize)
		if remaining := a.length - chunkOffset; remaining < toRead {
			toRead = remaining
		}

		chunk := buf[:toRead]
		if _, err := a.device.ReadAt(chunk, a.start+chunkOffset); err != nil && err != io.EOF {
			return 0, ferrors.ErrIOFailed.Wrap(err)
		}

		bits := bitmap.Bitmap(chunk)
		for byteIdx := 0; byteIdx < len(chunk); byteIdx++ {
			if chunk[byteIdx] == 0xFF {
				continue
			}

			for bitIdx := 0; bitIdx < 8; bitIdx++ {
				pos := byteIdx*8 + bitIdx
				if bits.Get(pos) {
					continue
				}

				bits.Set(pos, true)
				byteOffset := a.start + chunkOffset + int64(byteIdx)
				if _, err := a.device.WriteAt(chunk[byteIdx:byteIdx+1], byteOffset); err != nil {
					return 0, ferrors.ErrIOFailed.Wrap(err)
				}

				return uint32(chunkOffset)*8 + uint32(byteIdx)*8 + uint32(bitIdx), nil
			}
		}
	}

	return 0, ferrors.ErrExhausted.WithMessage("no free bit in allocator region")
}

// FreeBit clears the bit for the given index.
func (a *Allocator) FreeBit(index uint32) error {
	byteOffset := int64(index / 8)
	if byteOffset >= a.length {
		return ferrors.ErrInvalidInput.WithMessage(
			fmt.Sprintf("bit index %d out of range for a %d-byte bitmap", index, a.length))
	}

	var b [1]byte
	if _, err := a.device.ReadAt(b[:], a.start+byteOffset); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}

	bitmap.Bitmap(b[:]).Set(int(index%8), false)

	if _, err := a.device.WriteAt(b[:], a.start+byteOffset); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// IsSet reports whether the bit for the given index is currently set. It's
// used by recovery to skip unallocated inodes, and (through
// image.IsInodeAllocated) by directory lookup to check whether a directory
// entry's target inode is still allocated.
func (a *Allocator) IsSet(index uint32) (bool, error) {
	byteOffset := int64(index / 8)
	if byteOffset >= a.length {
		return false, ferrors.ErrInvalidInput.WithMessage(
			fmt.Sprintf("bit index %d out of range for a %d-byte bitmap", index, a.length))
	}

	var b [1]byte
	if _, err := a.device.ReadAt(b[:], a.start+byteOffset); err != nil {
		return false, ferrors.ErrIOFailed.Wrap(err)
	}

	return bitmap.Bitmap(b[:]).Get(int(index % 8)), nil
}

// SetBit forces the bit for the given index to value, bypassing the
// allocation scan. Used at format time to reserve index 0 for the root
// directory/inode.
func (a *Allocator) SetBit(index uint32, value bool) error {
	byteOffset := int64(index / 8)
	if byteOffset >= a.length {
		return ferrors.ErrInvalidInput.WithMessage(
			fmt.Sprintf("bit index %d out of range for a %d-byte bitmap", index, a.length))
	}

	var b [1]byte
	if _, err := a.device.ReadAt(b[:], a.start+byteOffset); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}

	bitmap.Bitmap(b[:]).Set(int(index%8), value)

	if _, err := a.device.WriteAt(b[:], a.start+byteOffset); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}
