package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// DirEntrySize is the on-disk size of a directory entry record, in bytes.
const DirEntrySize = 40

// DirEntry is a decoded 40-byte directory entry slot. Name has already had
// its NUL padding trimmed on decode.
type DirEntry struct {
	InodeID  uint32
	Name     string
	IsActive bool
}

// Encode serializes the entry to its fixed 40-byte wire form: inode ID, a
// 32-byte NUL-padded name, the active flag, and 3 bytes of padding. Names
// longer than MaxNameLength are truncated.
func (entry DirEntry) Encode() []byte {
	buf := make([]byte, DirEntrySize)
	w := bytewriter.New(buf)

	nameBytes := [MaxNameLength]byte{}
	copy(nameBytes[:], entry.Name)

	var active uint8
	if entry.IsActive {
		active = 1
	}

	binary.Write(w, binary.LittleEndian, entry.InodeID)
	binary.Write(w, binary.LittleEndian, nameBytes)
	binary.Write(w, binary.LittleEndian, active)
	w.Write(make([]byte, 3))

	return buf
}

// DecodeDirEntry reads a directory entry out of the first DirEntrySize
// bytes of buf, right-trimming NUL bytes from the name.
func DecodeDirEntry(buf []byte) (DirEntry, error) {
	if len(buf) < DirEntrySize {
		return DirEntry{}, fmt.Errorf(
			"directory entry record needs %d bytes, got %d", DirEntrySize, len(buf))
	}

	name := bytes.TrimRight(buf[4:4+MaxNameLength], "\x00")

	return DirEntry{
		InodeID:  binary.LittleEndian.Uint32(buf[0:4]),
		Name:     string(name),
		IsActive: buf[36] == 1,
	}, nil
}
