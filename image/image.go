// Package image owns the on-disk image as a whole: formatting a fresh one,
// opening an existing one (recovering any torn writes along the way), and
// giving the higher-level stream and directory packages inode and block
// storage to build on.
package image

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nullpointer-fs/imagevfs/bitmap"
	ferrors "github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
)

// RootInodeID is the inode ID of the image's root directory, fixed at
// format time.
const RootInodeID = 0

// Device is the positional I/O surface a backing store must provide. An
// *os.File satisfies this directly through pread/pwrite; vfstest.MemoryDevice
// satisfies it for tests.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
}

// Image is an open disk image: its super block plus the bitmap allocators
// and raw device access every other package needs.
type Image struct {
	device      Device
	closer      func() error
	sb          format.SuperBlock
	inodeBitmap *bitmap.Allocator
	dataBitmap  *bitmap.Allocator
}

// Format writes a fresh file system layout onto device, sized for
// imageSize bytes, and returns an Image ready for use. It lays out the
// super block, zeroes the bitmap and inode table regions, plants the root
// directory's inode, reserves inode 0 in the inode bitmap, and reserves data
// block 0 in the data bitmap, since a zero block pointer means "unallocated".
// It writes no directory entries; the root's "." and ".." entries are
// inserted by the imagevfs facade's Create.
func Format(device Device, imageSize int64) (*Image, error) {
	sb, err := format.ComputeLayout(imageSize)
	if err != nil {
		return nil, err
	}

	if _, err := device.WriteAt(sb.Encode(), 0); err != nil {
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}

	metadataSize := int64(sb.DataBlocksStart) - int64(sb.InodeBitmapStart)
	if err := zeroRegion(device, int64(sb.InodeBitmapStart), metadataSize); err != nil {
		return nil, err
	}

	now := uint64(currentUnixTime())
	rootInode := format.Inode{
		InodeType:  format.InodeTypeDirectory,
		IsValid:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	img := &Image{
		device:      device,
		sb:          sb,
		inodeBitmap: bitmap.New(device, int64(sb.InodeBitmapStart), int64(sb.DataBitmapStart-sb.InodeBitmapStart)),
		dataBitmap:  bitmap.New(device, int64(sb.DataBitmapStart), int64(sb.InodeTableStart-sb.DataBitmapStart)),
	}

	if err := img.SaveInode(RootInodeID, rootInode); err != nil {
		return nil, err
	}
	if err := img.inodeBitmap.SetBit(RootInodeID, true); err != nil {
		return nil, err
	}
	if err := img.dataBitmap.SetBit(0, true); err != nil {
		return nil, err
	}

	if err := device.Sync(); err != nil {
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}

	return img, nil
}

// Open reads the super block off device, verifies its magic key, runs the
// torn-write recovery scan over every allocated inode, and returns the
// resulting Image.
func Open(device Device) (*Image, error) {
	buf := make([]byte, format.SuperBlockSize)
	if _, err := device.ReadAt(buf, 0); err != nil {
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}

	sb, err := format.DecodeSuperBlock(buf)
	if err != nil {
		return nil, ferrors.ErrInvalidData.Wrap(err)
	}
	if sb.Magic != format.MagicKey() {
		return nil, ferrors.ErrInvalidData.WithMessage("not an image this library formatted")
	}

	img := &Image{
		device:      device,
		sb:          sb,
		inodeBitmap: bitmap.New(device, int64(sb.InodeBitmapStart), int64(sb.DataBitmapStart-sb.InodeBitmapStart)),
		dataBitmap:  bitmap.New(device, int64(sb.DataBitmapStart), int64(sb.InodeTableStart-sb.DataBitmapStart)),
	}

	if err := img.recoverTornInodes(); err != nil {
		return nil, err
	}

	return img, nil
}

// CreateFile formats a brand new image at path, creating or truncating the
// host file as needed, and returns it open.
func CreateFile(path string, imageSize int64) (*Image, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}
	if err := file.Truncate(imageSize); err != nil {
		file.Close()
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}

	img, err := Format(file, imageSize)
	if err != nil {
		file.Close()
		return nil, err
	}
	img.closer = file.Close
	return img, nil
}

// OpenFile opens an existing image at path.
func OpenFile(path string) (*Image, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, ferrors.ErrIOFailed.Wrap(err)
	}

	img, err := Open(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	img.closer = file.Close
	return img, nil
}

// recoverTornInodes clears the inode-bitmap bit for every allocated inode
// whose IsValid flag reads 0, meaning a prior write was interrupted between
// clearing the flag and restoring it. It keeps scanning past individual
// read errors, aggregating them with multierror so one bad inode doesn't
// hide problems with the rest.
func (img *Image) recoverTornInodes() error {
	var result *multierror.Error

	maxInodes := img.sb.MaxInodes()
	for id := uint32(1); id < maxInodes; id++ {
		allocated, err := img.inodeBitmap.IsSet(id)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !allocated {
			continue
		}

		inode, err := img.GetInode(id)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		if inode.IsValid == 0 {
			if err := img.inodeBitmap.FreeBit(id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	return result.ErrorOrNil()
}

// SuperBlock returns the image's decoded super block.
func (img *Image) SuperBlock() format.SuperBlock {
	return img.sb
}

// GetInode loads the inode record with the given ID from the inode table.
func (img *Image) GetInode(id uint32) (format.Inode, error) {
	pos := int64(img.sb.InodeTableStart) + int64(id)*format.InodeSize
	buf := make([]byte, format.InodeSize)
	if _, err := img.device.ReadAt(buf, pos); err != nil {
		return format.Inode{}, ferrors.ErrIOFailed.Wrap(err)
	}
	return format.DecodeInode(buf)
}

// SaveInode writes the inode record with the given ID back to the inode
// table.
func (img *Image) SaveInode(id uint32, inode format.Inode) error {
	pos := int64(img.sb.InodeTableStart) + int64(id)*format.InodeSize
	if _, err := img.device.WriteAt(inode.Encode(), pos); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// AllocateInode reserves and returns the lowest-indexed free inode ID.
func (img *Image) AllocateInode() (uint32, error) {
	return img.inodeBitmap.AllocateBit()
}

// FreeInode releases an inode ID back to the pool.
func (img *Image) FreeInode(id uint32) error {
	return img.inodeBitmap.FreeBit(id)
}

// IsInodeAllocated reports whether the inode bitmap still has id reserved.
// A directory entry whose target fails this check points at a freed inode.
func (img *Image) IsInodeAllocated(id uint32) (bool, error) {
	return img.inodeBitmap.IsSet(id)
}

// AllocateDataBlock reserves and returns the lowest-indexed free physical
// data block ID. The ID is relative to the data block region, not the raw
// device offset; BlockOffset translates it.
func (img *Image) AllocateDataBlock() (uint32, error) {
	return img.dataBitmap.AllocateBit()
}

// FreeDataBlock releases a physical data block ID back to the pool.
func (img *Image) FreeDataBlock(id uint32) error {
	return img.dataBitmap.FreeBit(id)
}

// BlockOffset returns the device byte offset of the start of physical data
// block id.
func (img *Image) BlockOffset(id uint32) int64 {
	return int64(img.sb.DataBlocksStart) + int64(id)*format.BlockSize
}

// ReadBlock reads one full block's worth of bytes from physical data block
// id. It implements blockmap.BlockSource.
func (img *Image) ReadBlock(id uint32, buf []byte) error {
	if _, err := img.device.ReadAt(buf, img.BlockOffset(id)); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteBlock writes buf to physical data block id. It implements
// blockmap.BlockSource.
func (img *Image) WriteBlock(id uint32, buf []byte) error {
	if _, err := img.device.WriteAt(buf, img.BlockOffset(id)); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadAt reads len(p) bytes at device offset img.BlockOffset(id)+offset,
// used by the stream package to read less than a full block.
func (img *Image) ReadAt(id uint32, offset int64, p []byte) (int, error) {
	n, err := img.device.ReadAt(p, img.BlockOffset(id)+offset)
	if err != nil {
		return n, ferrors.ErrIOFailed.Wrap(err)
	}
	return n, nil
}

// WriteAt writes p at device offset img.BlockOffset(id)+offset.
func (img *Image) WriteAt(id uint32, offset int64, p []byte) (int, error) {
	n, err := img.device.WriteAt(p, img.BlockOffset(id)+offset)
	if err != nil {
		return n, ferrors.ErrIOFailed.Wrap(err)
	}
	return n, nil
}

// Sync flushes the backing device.
func (img *Image) Sync() error {
	if err := img.device.Sync(); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Close flushes and releases the backing device, if Image owns it (i.e. it
// was opened via CreateFile/OpenFile rather than Format/Open on a caller-
// supplied Device).
func (img *Image) Close() error {
	if img.closer == nil {
		return img.Sync()
	}
	if err := img.Sync(); err != nil {
		img.closer()
		return err
	}
	if err := img.closer(); err != nil {
		return ferrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func zeroRegion(device Device, start, length int64) error {
	zeroBlock := make([]byte, format.BlockSize)
	for written := int64(0); written < length; written += format.BlockSize {
		chunk := int64(format.BlockSize)
		if remaining := length - written; remaining < chunk {
			chunk = remaining
		}
		if _, err := device.WriteAt(zeroBlock[:chunk], start+written); err != nil {
			return ferrors.ErrIOFailed.Wrap(err)
		}
	}
	return nil
}

func currentUnixTime() int64 {
	return time.Now().Unix()
}
