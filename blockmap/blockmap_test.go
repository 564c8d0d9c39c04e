package blockmap_test

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/nullpointer-fs/imagevfs/blockmap"
	"github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal in-memory implementation of blockmap.BlockSource,
// addressing data blocks by a simple incrementing counter rather than a real
// bitmap allocator.
type fakeSource struct {
	mu     sync.Mutex
	inodes map[uint32]format.Inode
	blocks map[uint32][]byte
	freed  []uint32
	next   uint32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		inodes: map[uint32]format.Inode{0: {}},
		blocks: map[uint32][]byte{},
		next:   1,
	}
}

func (s *fakeSource) GetInode(id uint32) (format.Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inodes[id], nil
}

func (s *fakeSource) SaveInode(id uint32, inode format.Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inodes[id] = inode
	return nil
}

func (s *fakeSource) AllocateDataBlock() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.blocks[id] = make([]byte, format.BlockSize)
	return id, nil
}

func (s *fakeSource) ReadBlock(physicalID uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[physicalID]
	if !ok {
		return fmt.Errorf("no such block %d", physicalID)
	}
	copy(buf, block)
	return nil
}

func (s *fakeSource) WriteBlock(physicalID uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[physicalID]
	if !ok {
		return fmt.Errorf("no such block %d", physicalID)
	}
	copy(block, buf)
	return nil
}

func (s *fakeSource) FreeDataBlock(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freed = append(s.freed, id)
	return nil
}

func TestAllocateDirectBlockIsStableAcrossCalls(t *testing.T) {
	source := newFakeSource()

	first, err := blockmap.Allocate(source, 0, 3)
	require.NoError(t, err)

	second, err := blockmap.Allocate(source, 0, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveReportsHoleForUntouchedDirectSlot(t *testing.T) {
	source := newFakeSource()

	id, ok, err := blockmap.Resolve(source, format.Inode{}, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, id)
}

func TestAllocateIndirectBlockAllocatesPointerBlockLazily(t *testing.T) {
	source := newFakeSource()

	physical, err := blockmap.Allocate(source, 0, format.DirectBlockCount)
	require.NoError(t, err)
	assert.NotZero(t, physical)

	inode, err := source.GetInode(0)
	require.NoError(t, err)
	assert.NotZero(t, inode.IndirectBlocks)

	again, err := blockmap.Allocate(source, 0, format.DirectBlockCount)
	require.NoError(t, err)
	assert.Equal(t, physical, again)
}

func TestAllocateIndirectBlockPersistsPointer(t *testing.T) {
	source := newFakeSource()

	physical, err := blockmap.Allocate(source, 0, format.DirectBlockCount+7)
	require.NoError(t, err)

	inode, err := source.GetInode(0)
	require.NoError(t, err)

	pointerBlock := make([]byte, format.BlockSize)
	require.NoError(t, source.ReadBlock(inode.IndirectBlocks, pointerBlock))

	stored := binary.LittleEndian.Uint32(pointerBlock[7*4 : 7*4+4])
	assert.Equal(t, physical, stored)
}

func TestAllocateRejectsIndexPastMaximum(t *testing.T) {
	source := newFakeSource()

	_, err := blockmap.Allocate(source, 0, format.MaxFileBlocks)
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestResolveRejectsIndexPastMaximum(t *testing.T) {
	source := newFakeSource()

	_, _, err := blockmap.Resolve(source, format.Inode{}, format.MaxFileBlocks)
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestResolveSeesWhatAllocateWrote(t *testing.T) {
	source := newFakeSource()

	physical, err := blockmap.Allocate(source, 0, format.DirectBlockCount+200)
	require.NoError(t, err)

	inode, err := source.GetInode(0)
	require.NoError(t, err)

	resolved, ok, err := blockmap.Resolve(source, inode, format.DirectBlockCount+200)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, physical, resolved)
}

func TestReleaseBlocksFreesDirectAndIndirectBlocks(t *testing.T) {
	source := newFakeSource()

	_, err := blockmap.Allocate(source, 0, 0)
	require.NoError(t, err)
	_, err = blockmap.Allocate(source, 0, format.DirectBlockCount+3)
	require.NoError(t, err)

	inode, err := source.GetInode(0)
	require.NoError(t, err)

	require.NoError(t, blockmap.ReleaseBlocks(source, source, inode))

	// direct block, the allocated indirect pointer slot, and the pointer
	// block itself must all have been freed.
	assert.Len(t, source.freed, 3)
	assert.Contains(t, source.freed, inode.DirectBlocks[0])
	assert.Contains(t, source.freed, inode.IndirectBlocks)
}
