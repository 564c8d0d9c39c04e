package format

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"

	ferrors "github.com/nullpointer-fs/imagevfs/errors"
)

// SuperBlockSize is the on-disk size of a super block record, in bytes.
const SuperBlockSize = 48

// SuperBlock is the decoded 48-byte header at image offset 0. It carries the
// four region start offsets that every other package needs to translate a
// logical position into a physical one.
type SuperBlock struct {
	Magic            uint64
	BlockSize        uint32
	TotalBlocks      uint32
	InodeBitmapStart uint64
	DataBitmapStart  uint64
	InodeTableStart  uint64
	DataBlocksStart  uint64
}

// MaxInodes returns the number of inode slots the inode bitmap addresses.
// Bit 0 is always the root directory.
func (sb SuperBlock) MaxInodes() uint32 {
	return uint32(sb.DataBitmapStart-sb.InodeBitmapStart) * 8
}

// DataBitmapBits returns the number of data-bitmap bits, i.e. the total
// number of physical blocks in the image (including the metadata blocks the
// bitmap itself also covers bits for).
func (sb SuperBlock) DataBitmapBits() uint32 {
	return uint32(sb.InodeTableStart-sb.DataBitmapStart) * 8
}

// Encode serializes the super block to its fixed 48-byte wire form. The
// magic key is written out as-is; callers that want a freshly formatted
// super block should set Magic to MagicKey().
func (sb SuperBlock) Encode() []byte {
	buf := make([]byte, SuperBlockSize)
	w := bytewriter.New(buf)

	binary.Write(w, binary.LittleEndian, sb.Magic)
	binary.Write(w, binary.LittleEndian, sb.BlockSize)
	binary.Write(w, binary.LittleEndian, sb.TotalBlocks)
	binary.Write(w, binary.LittleEndian, sb.InodeBitmapStart)
	binary.Write(w, binary.LittleEndian, sb.DataBitmapStart)
	binary.Write(w, binary.LittleEndian, sb.InodeTableStart)
	binary.Write(w, binary.LittleEndian, sb.DataBlocksStart)

	return buf
}

// DecodeSuperBlock reads a super block out of the first SuperBlockSize bytes
// of buf. Trailing bytes are ignored.
func DecodeSuperBlock(buf []byte) (SuperBlock, error) {
	if len(buf) < SuperBlockSize {
		return SuperBlock{}, fmt.Errorf(
			"super block record needs %d bytes, got %d", SuperBlockSize, len(buf))
	}

	return SuperBlock{
		Magic:            binary.LittleEndian.Uint64(buf[0:8]),
		BlockSize:        binary.LittleEndian.Uint32(buf[8:12]),
		TotalBlocks:      binary.LittleEndian.Uint32(buf[12:16]),
		InodeBitmapStart: binary.LittleEndian.Uint64(buf[16:24]),
		DataBitmapStart:  binary.LittleEndian.Uint64(buf[24:32]),
		InodeTableStart:  binary.LittleEndian.Uint64(buf[32:40]),
		DataBlocksStart:  binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}

// ceilDiv divides a by b, rounding up.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// ComputeLayout derives the region layout of a freshly formatted image of
// imageSize bytes, per the fixed region table: super block, inode bitmap,
// data bitmap, inode table, then the data region rounded up to a block
// boundary.
func ComputeLayout(imageSize int64) (SuperBlock, error) {
	if imageSize <= 0 || imageSize%BlockSize != 0 {
		return SuperBlock{}, ferrors.ErrInvalidInput.WithMessage(
			fmt.Sprintf("image size must be a positive multiple of %d bytes, got %d",
				BlockSize, imageSize))
	}

	totalBlocks := imageSize / BlockSize
	maxInodes := totalBlocks / 4
	if maxInodes < 1 {
		return SuperBlock{}, ferrors.ErrInvalidInput.WithMessage(
			"image is too small to hold even the root inode")
	}

	inodeBitmapSize := ceilDiv(maxInodes, 8)
	if inodeBitmapSize < 1 {
		inodeBitmapSize = 1
	}
	dataBitmapSize := ceilDiv(totalBlocks, 8)
	if dataBitmapSize < 1 {
		dataBitmapSize = 1
	}
	inodeTableSize := maxInodes * InodeSize

	inodeBitmapStart := int64(BlockSize)
	dataBitmapStart := inodeBitmapStart + inodeBitmapSize
	inodeTableStart := dataBitmapStart + dataBitmapSize
	dataBlocksStart := ceilDiv(inodeTableStart+inodeTableSize, BlockSize) * BlockSize

	if dataBlocksStart >= imageSize {
		return SuperBlock{}, ferrors.ErrInvalidInput.WithMessage(
			"image is too small to hold its own metadata region")
	}

	return SuperBlock{
		Magic:            MagicKey(),
		BlockSize:        BlockSize,
		TotalBlocks:      uint32(totalBlocks),
		InodeBitmapStart: uint64(inodeBitmapStart),
		DataBitmapStart:  uint64(dataBitmapStart),
		InodeTableStart:  uint64(inodeTableStart),
		DataBlocksStart:  uint64(dataBlocksStart),
	}, nil
}
