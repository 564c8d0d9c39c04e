package format

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// InodeSize is the on-disk size of an inode record, in bytes.
const InodeSize = 80

// Inode is the decoded 80-byte inode record. CreatedAt/ModifiedAt stay as
// raw Unix-second counts here; converting to time.Time is the facade's job,
// not the codec's.
type Inode struct {
	InodeType      uint8
	IsValid        uint8
	Size           uint64
	CreatedAt      uint64
	ModifiedAt     uint64
	DirectBlocks   [DirectBlockCount]uint32
	IndirectBlocks uint32
}

// IsDirectory reports whether this inode describes a directory.
func (inode Inode) IsDirectory() bool {
	return inode.InodeType == InodeTypeDirectory
}

// Encode serializes the inode to its fixed 80-byte wire form: type, valid
// flag, 6 bytes of padding, size, timestamps, direct block pointers,
// indirect block pointer, 4 bytes of trailing padding.
func (inode Inode) Encode() []byte {
	buf := make([]byte, InodeSize)
	w := bytewriter.New(buf)

	binary.Write(w, binary.LittleEndian, inode.InodeType)
	binary.Write(w, binary.LittleEndian, inode.IsValid)
	w.Write(make([]byte, 6))
	binary.Write(w, binary.LittleEndian, inode.Size)
	binary.Write(w, binary.LittleEndian, inode.CreatedAt)
	binary.Write(w, binary.LittleEndian, inode.ModifiedAt)
	binary.Write(w, binary.LittleEndian, inode.DirectBlocks)
	binary.Write(w, binary.LittleEndian, inode.IndirectBlocks)
	w.Write(make([]byte, 4))

	return buf
}

// DecodeInode reads an inode out of the first InodeSize bytes of buf.
// Trailing bytes, including the interior padding, are ignored.
func DecodeInode(buf []byte) (Inode, error) {
	if len(buf) < InodeSize {
		return Inode{}, fmt.Errorf(
			"inode record needs %d bytes, got %d", InodeSize, len(buf))
	}

	inode := Inode{
		InodeType:  buf[0],
		IsValid:    buf[1],
		Size:       binary.LittleEndian.Uint64(buf[8:16]),
		CreatedAt:  binary.LittleEndian.Uint64(buf[16:24]),
		ModifiedAt: binary.LittleEndian.Uint64(buf[24:32]),
	}

	for i := 0; i < DirectBlockCount; i++ {
		start := 32 + i*4
		inode.DirectBlocks[i] = binary.LittleEndian.Uint32(buf[start : start+4])
	}
	inode.IndirectBlocks = binary.LittleEndian.Uint32(buf[72:76])

	return inode, nil
}
