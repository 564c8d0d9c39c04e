// Package blockmap translates a file's logical block index into the
// physical block ID that holds it, walking an inode's ten direct pointers
// and, past those, a single lazily allocated indirect pointer block.
package blockmap

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	ferrors "github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
)

// BlockSource is the minimal inode table access the block map needs: load
// and persist an inode by ID, allocate a data block, and read or write a
// whole data block. Freeing blocks goes through BlockFreer.
type BlockSource interface {
	GetInode(id uint32) (format.Inode, error)
	SaveInode(id uint32, inode format.Inode) error
	AllocateDataBlock() (uint32, error)
	ReadBlock(physicalID uint32, buf []byte) error
	WriteBlock(physicalID uint32, buf []byte) error
}

// Resolve returns the physical block ID backing logical block index of the
// given inode, without allocating anything. ok is false for a hole: a
// direct slot that's never been written, or an index past an inode that
// has no indirect block yet.
func Resolve(source BlockSource, inode format.Inode, index uint32) (uint32, bool, error) {
	if index < format.DirectBlockCount {
		id := inode.DirectBlocks[index]
		return id, id != 0, nil
	}

	indirectIndex := index - format.DirectBlockCount
	if indirectIndex >= format.PointersPerIndirectBlock {
		return 0, false, fileTooLarge(index)
	}

	if inode.IndirectBlocks == 0 {
		return 0, false, nil
	}

	pointerBlock := make([]byte, format.BlockSize)
	if err := source.ReadBlock(inode.IndirectBlocks, pointerBlock); err != nil {
		return 0, false, err
	}

	id := binary.LittleEndian.Uint32(pointerBlock[indirectIndex*4 : indirectIndex*4+4])
	return id, id != 0, nil
}

// Allocate resolves the physical block ID backing logical block index of
// the inode identified by inodeID, allocating a fresh data block (and, if
// needed, a fresh zero-filled indirect pointer block) the first time that
// slot is touched. It persists every inode and pointer-block mutation it
// makes before returning.
func Allocate(source BlockSource, inodeID uint32, index uint32) (uint32, error) {
	inode, err := source.GetInode(inodeID)
	if err != nil {
		return 0, err
	}

	if index < format.DirectBlockCount {
		if existing := inode.DirectBlocks[index]; existing != 0 {
			return existing, nil
		}

		newBlock, err := source.AllocateDataBlock()
		if err != nil {
			return 0, err
		}
		inode.DirectBlocks[index] = newBlock
		if err := source.SaveInode(inodeID, inode); err != nil {
			return 0, err
		}
		return newBlock, nil
	}

	indirectIndex := index - format.DirectBlockCount
	if indirectIndex >= format.PointersPerIndirectBlock {
		return 0, fileTooLarge(index)
	}

	if inode.IndirectBlocks == 0 {
		newPointerBlock, err := source.AllocateDataBlock()
		if err != nil {
			return 0, err
		}
		inode.IndirectBlocks = newPointerBlock
		if err := source.SaveInode(inodeID, inode); err != nil {
			return 0, err
		}
		if err := source.WriteBlock(newPointerBlock, make([]byte, format.BlockSize)); err != nil {
			return 0, err
		}
	}

	pointerBlock := make([]byte, format.BlockSize)
	if err := source.ReadBlock(inode.IndirectBlocks, pointerBlock); err != nil {
		return 0, err
	}

	slot := pointerBlock[indirectIndex*4 : indirectIndex*4+4]
	dataBlockID := binary.LittleEndian.Uint32(slot)
	if dataBlockID != 0 {
		return dataBlockID, nil
	}

	dataBlockID, err = source.AllocateDataBlock()
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(slot, dataBlockID)
	if err := source.WriteBlock(inode.IndirectBlocks, pointerBlock); err != nil {
		return 0, err
	}

	return dataBlockID, nil
}

// BlockFreer is the subset of an allocator an inode's blocks get released
// back to.
type BlockFreer interface {
	FreeDataBlock(id uint32) error
}

// ReleaseBlocks frees every physical data block an inode addresses: its
// direct slots, every non-empty pointer in its indirect block, and finally
// the indirect block itself. It keeps going past individual failures and
// reports them together, since a single bad free shouldn't leave the rest
// of the file's blocks leaked.
func ReleaseBlocks(source BlockSource, freer BlockFreer, inode format.Inode) error {
	var result *multierror.Error

	for _, blockID := range inode.DirectBlocks {
		if blockID == 0 {
			continue
		}
		if err := freer.FreeDataBlock(blockID); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if inode.IndirectBlocks != 0 {
		pointerBlock := make([]byte, format.BlockSize)
		if err := source.ReadBlock(inode.IndirectBlocks, pointerBlock); err != nil {
			result = multierror.Append(result, err)
		} else {
			for i := 0; i < format.PointersPerIndirectBlock; i++ {
				blockID := binary.LittleEndian.Uint32(pointerBlock[i*4 : i*4+4])
				if blockID == 0 {
					continue
				}
				if err := freer.FreeDataBlock(blockID); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}

		if err := freer.FreeDataBlock(inode.IndirectBlocks); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func fileTooLarge(index uint32) error {
	return ferrors.ErrFileTooLarge.WithMessage(
		fmt.Sprintf("block index %d exceeds the %d blocks a file can address", index, format.MaxFileBlocks))
}
