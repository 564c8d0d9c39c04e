// Package directory implements directories as a packed stream of fixed-size
// entry records over an inode's data blocks: lookup, insertion into the
// first free or tombstoned slot, tombstoning on removal, and enumeration.
package directory

import (
	"time"

	"github.com/nullpointer-fs/imagevfs/blockmap"
	ferrors "github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
)

// Backend is the image access directory operations need: inode bitmap
// membership checks plus everything blockmap.BlockSource requires.
type Backend interface {
	blockmap.BlockSource
	IsInodeAllocated(id uint32) (bool, error)
}

// Find looks up name in the directory backed by dirInodeID, returning the
// inode ID it names. It stops scanning at the first logical block the
// directory's inode has no entry for, per the storage engine's convention
// that a directory's blocks are always contiguous from index 0.
func Find(backend Backend, dirInodeID uint32, name string) (uint32, error) {
	dirInode, err := backend.GetInode(dirInodeID)
	if err != nil {
		return 0, err
	}

	for blockIndex := uint32(0); blockIndex < format.MaxFileBlocks; blockIndex++ {
		physicalID, ok, err := blockmap.Resolve(backend, dirInode, blockIndex)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		block := make([]byte, format.BlockSize)
		if err := backend.ReadBlock(physicalID, block); err != nil {
			return 0, err
		}

		for slot := 0; slot < format.DirEntriesPerBlock; slot++ {
			entry, err := format.DecodeDirEntry(block[slot*format.DirEntrySize:])
			if err != nil {
				return 0, err
			}
			if !entry.IsActive || entry.Name != name {
				continue
			}

			allocated, err := backend.IsInodeAllocated(entry.InodeID)
			if err != nil {
				return 0, err
			}
			if !allocated {
				return 0, ferrors.ErrNotFound.WithMessage("entry '" + name + "' points at a freed inode")
			}
			return entry.InodeID, nil
		}
	}

	return 0, ferrors.ErrNotFound.WithMessage("no entry named '" + name + "'")
}

// Insert adds a directory entry named name pointing at childID into the
// directory backed by dirInodeID, reusing the first tombstoned or
// never-written slot. It grows the directory's inode (allocating a new
// block if every existing one is full), always bumps its modified time, and
// bumps its size when the entry lands past the previous end of the stream.
func Insert(backend Backend, dirInodeID uint32, name string, childID uint32) error {
	entry := format.DirEntry{InodeID: childID, Name: name, IsActive: true}

	for blockIndex := uint32(0); blockIndex < format.MaxFileBlocks; blockIndex++ {
		physicalID, err := blockmap.Allocate(backend, dirInodeID, blockIndex)
		if err != nil {
			return err
		}

		block := make([]byte, format.BlockSize)
		if err := backend.ReadBlock(physicalID, block); err != nil {
			return err
		}

		for slot := 0; slot < format.DirEntriesPerBlock; slot++ {
			slotBuf := block[slot*format.DirEntrySize : (slot+1)*format.DirEntrySize]
			existing, err := format.DecodeDirEntry(slotBuf)
			if err != nil {
				return err
			}
			if existing.IsActive {
				continue
			}

			copy(slotBuf, entry.Encode())
			if err := backend.WriteBlock(physicalID, block); err != nil {
				return err
			}

			dirInode, err := backend.GetInode(dirInodeID)
			if err != nil {
				return err
			}
			dirInode.ModifiedAt = uint64(time.Now().Unix())
			entryEndPos := uint64(blockIndex)*format.BlockSize + uint64(slot+1)*format.DirEntrySize
			if entryEndPos > dirInode.Size {
				dirInode.Size = entryEndPos
			}
			return backend.SaveInode(dirInodeID, dirInode)
		}
	}

	return ferrors.ErrExhausted.WithMessage("directory is full")
}

// SetActive flips the is_active flag on the entry named name within the
// directory backed by dirInodeID. Removal uses this to tombstone an entry
// rather than compacting the stream.
func SetActive(backend Backend, dirInodeID uint32, name string, active bool) error {
	dirInode, err := backend.GetInode(dirInodeID)
	if err != nil {
		return err
	}

	for blockIndex := uint32(0); blockIndex < format.MaxFileBlocks; blockIndex++ {
		physicalID, ok, err := blockmap.Resolve(backend, dirInode, blockIndex)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		block := make([]byte, format.BlockSize)
		if err := backend.ReadBlock(physicalID, block); err != nil {
			return err
		}

		for slot := 0; slot < format.DirEntriesPerBlock; slot++ {
			slotBuf := block[slot*format.DirEntrySize : (slot+1)*format.DirEntrySize]
			entry, err := format.DecodeDirEntry(slotBuf)
			if err != nil {
				return err
			}
			if !entry.IsActive || entry.Name != name {
				continue
			}

			entry.IsActive = active
			copy(slotBuf, entry.Encode())
			return backend.WriteBlock(physicalID, block)
		}
	}

	return ferrors.ErrNotFound.WithMessage("no entry named '" + name + "'")
}

// Enumerate returns the names of every active entry in the directory backed
// by dirInodeID, in on-disk order.
func Enumerate(backend Backend, dirInodeID uint32) ([]string, error) {
	dirInode, err := backend.GetInode(dirInodeID)
	if err != nil {
		return nil, err
	}

	var names []string
	for blockIndex := uint32(0); blockIndex < format.MaxFileBlocks; blockIndex++ {
		physicalID, ok, err := blockmap.Resolve(backend, dirInode, blockIndex)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		block := make([]byte, format.BlockSize)
		if err := backend.ReadBlock(physicalID, block); err != nil {
			return nil, err
		}

		for slot := 0; slot < format.DirEntriesPerBlock; slot++ {
			entry, err := format.DecodeDirEntry(block[slot*format.DirEntrySize:])
			if err != nil {
				return nil, err
			}
			if entry.IsActive {
				names = append(names, entry.Name)
			}
		}
	}

	return names, nil
}

// EnumerateEntries returns every active directory entry record (inode ID
// and name, not just the name) in the directory backed by dirInodeID. The
// facade's detailed listing uses this to pair each name with its inode's
// type, size, and timestamps without a second lookup pass.
func EnumerateEntries(backend Backend, dirInodeID uint32) ([]format.DirEntry, error) {
	dirInode, err := backend.GetInode(dirInodeID)
	if err != nil {
		return nil, err
	}

	var entries []format.DirEntry
	for blockIndex := uint32(0); blockIndex < format.MaxFileBlocks; blockIndex++ {
		physicalID, ok, err := blockmap.Resolve(backend, dirInode, blockIndex)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		block := make([]byte, format.BlockSize)
		if err := backend.ReadBlock(physicalID, block); err != nil {
			return nil, err
		}

		for slot := 0; slot < format.DirEntriesPerBlock; slot++ {
			entry, err := format.DecodeDirEntry(block[slot*format.DirEntrySize:])
			if err != nil {
				return nil, err
			}
			if entry.IsActive {
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}
