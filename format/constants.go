// Package format implements the byte-exact on-disk records of the image:
// the super block, the inode, and the directory entry, plus the layout
// computation that derives region offsets from an image's total size.
//
// Every encoder here writes exactly the record's fixed size; every decoder
// accepts at least that many bytes and ignores anything past it. There is no
// semantic validation in this package beyond what's needed to pull fields
// out of their fixed positions — callers higher up the stack own invariants
// like "is this inode allocated" or "does this name collide".
package format

import "encoding/binary"

// BlockSize is the size of a logical and physical block, in bytes. It's also
// the size of the super block's region and the unit the data region is
// padded out to.
const BlockSize = 4096

// MaxNameLength is the longest name a directory entry can hold. Names are
// not NUL-terminated; all 32 bytes participate in equality after right-
// trimming NUL padding.
const MaxNameLength = 32

// DirectBlockCount is the number of direct block pointers an inode carries.
const DirectBlockCount = 10

// PointersPerIndirectBlock is how many u32 block IDs fit in one indirect
// pointer block (BlockSize / 4).
const PointersPerIndirectBlock = BlockSize / 4

// MaxFileBlocks is the largest logical block index, plus one, a file can
// address: DirectBlockCount direct slots plus PointersPerIndirectBlock
// indirect slots.
const MaxFileBlocks = DirectBlockCount + PointersPerIndirectBlock

// MaxFileSize is MaxFileBlocks full blocks, in bytes (~4.2 MiB).
const MaxFileSize = int64(MaxFileBlocks) * BlockSize

// DirEntriesPerBlock is how many fixed directory entry records fit in one
// data block.
const DirEntriesPerBlock = BlockSize / DirEntrySize

// Inode type tags.
const (
	InodeTypeFile      = 0
	InodeTypeDirectory = 1
)

// magicLiteral is the 8 ASCII bytes the super block's magic key is derived
// from.
var magicLiteral = [8]byte{'M', 'o', 'i', 's', 'a', '%', '$', '!'}

// MagicKey returns the super block magic key: the literal bytes above, read
// as a big-endian u64 (so the first byte, 'M', is the most significant
// byte), then stored little-endian on disk like every other integer field.
func MagicKey() uint64 {
	return binary.BigEndian.Uint64(magicLiteral[:])
}
