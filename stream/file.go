// Package stream implements the per-handle read/write/seek cursor over a
// file's inode, including the torn-write protocol that guards every write
// against a crash mid-block.
package stream

import (
	"time"

	"github.com/nullpointer-fs/imagevfs/blockmap"
	ferrors "github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
)

// Backend is the image access a File needs: inode load/save, the
// blockmap.BlockSource surface for block resolution and allocation, plus
// partial-block positional I/O and a way to fsync.
type Backend interface {
	blockmap.BlockSource
	ReadAt(physicalID uint32, offset int64, p []byte) (int, error)
	WriteAt(physicalID uint32, offset int64, p []byte) (int, error)
	Sync() error
}

// File is an open handle onto one inode's byte stream. Multiple Files may
// be open on the same inode at once, each with its own independent cursor;
// nothing here caches the inode across calls, so every handle always sees
// the latest committed size.
type File struct {
	backend  Backend
	inodeID  uint32
	position int64
}

// New creates a handle positioned at the start of the inode's data.
func New(backend Backend, inodeID uint32) *File {
	return &File{backend: backend, inodeID: inodeID}
}

// InodeID returns the inode this handle reads and writes.
func (f *File) InodeID() uint32 {
	return f.inodeID
}

// Read fills buf from the current position, returning 0, nil at end of
// file. A logical block with no backing physical block (a hole) reads back
// as zeroes rather than causing an allocation.
func (f *File) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	inode, err := f.backend.GetInode(f.inodeID)
	if err != nil {
		return 0, err
	}

	if f.position >= int64(inode.Size) {
		return 0, nil
	}

	blockIndex := uint32(f.position / format.BlockSize)
	offsetInBlock := f.position % format.BlockSize

	physicalID, ok, err := blockmap.Resolve(f.backend, inode, blockIndex)
	if err != nil {
		return 0, err
	}

	availableInFile := int64(inode.Size) - f.position
	availableInBlock := format.BlockSize - offsetInBlock
	toRead := int64(len(buf))
	if availableInBlock < toRead {
		toRead = availableInBlock
	}
	if availableInFile < toRead {
		toRead = availableInFile
	}

	if !ok {
		for i := int64(0); i < toRead; i++ {
			buf[i] = 0
		}
		f.position += toRead
		return int(toRead), nil
	}

	n, err := f.backend.ReadAt(physicalID, offsetInBlock, buf[:toRead])
	if err != nil {
		return n, err
	}
	f.position += int64(n)
	return n, nil
}

// Write writes buf starting at the current position, growing the file and
// allocating blocks as needed. Writes never span more than one block per
// call to Write; callers that pass a larger buffer get a short write and
// must call again, mirroring the underlying storage engine's block-at-a-
// time commit protocol.
func (f *File) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	inode, err := f.backend.GetInode(f.inodeID)
	if err != nil {
		return 0, err
	}

	if inode.IsValid == 1 {
		inode.IsValid = 0
		if err := f.backend.SaveInode(f.inodeID, inode); err != nil {
			return 0, err
		}
		if err := f.backend.Sync(); err != nil {
			return 0, err
		}
	}

	blockIndex := uint32(f.position / format.BlockSize)
	offsetInBlock := f.position % format.BlockSize

	physicalID, err := blockmap.Allocate(f.backend, f.inodeID, blockIndex)
	if err != nil {
		return 0, err
	}

	spaceLeftInBlock := format.BlockSize - offsetInBlock
	toWrite := int64(len(buf))
	if spaceLeftInBlock < toWrite {
		toWrite = spaceLeftInBlock
	}

	n, err := f.backend.WriteAt(physicalID, offsetInBlock, buf[:toWrite])
	if err != nil {
		return n, err
	}
	if err := f.backend.Sync(); err != nil {
		return n, err
	}

	f.position += int64(n)

	inode, err = f.backend.GetInode(f.inodeID)
	if err != nil {
		return n, err
	}
	if f.position > int64(inode.Size) {
		inode.Size = uint64(f.position)
	}
	inode.ModifiedAt = uint64(time.Now().Unix())
	inode.IsValid = 1

	if err := f.backend.SaveInode(f.inodeID, inode); err != nil {
		return n, err
	}
	if err := f.backend.Sync(); err != nil {
		return n, err
	}

	return n, nil
}

// Seek moves the cursor. SeekStart/SeekCurrent/SeekEnd mirror io.Seeker's
// whence values; a resulting negative position is rejected.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = f.position
	case SeekEnd:
		inode, err := f.backend.GetInode(f.inodeID)
		if err != nil {
			return 0, err
		}
		base = int64(inode.Size)
	default:
		return 0, ferrors.ErrInvalidInput.WithMessage("unknown seek whence")
	}

	newPosition := base + offset
	if newPosition < 0 {
		return 0, ferrors.ErrInvalidInput.WithMessage("seek would produce a negative position")
	}

	f.position = newPosition
	return f.position, nil
}

// Seek whence values, mirroring io.SeekStart/io.SeekCurrent/io.SeekEnd.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// Flush fsyncs the backing device.
func (f *File) Flush() error {
	return f.backend.Sync()
}
