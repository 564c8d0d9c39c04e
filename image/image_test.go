package image_test

import (
	"testing"

	"github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
	"github.com/nullpointer-fs/imagevfs/image"
	"github.com/nullpointer-fs/imagevfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatReservesRootInode(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	img, err := image.Format(device, 2*1024*1024)
	require.NoError(t, err)

	allocated, err := img.IsInodeAllocated(image.RootInodeID)
	require.NoError(t, err)
	assert.True(t, allocated)

	root, err := img.GetInode(image.RootInodeID)
	require.NoError(t, err)
	assert.True(t, root.IsDirectory())
	assert.EqualValues(t, 1, root.IsValid)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	_, err := image.Open(device)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestOpenAfterFormatSeesSameLayout(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	formatted, err := image.Format(device, 2*1024*1024)
	require.NoError(t, err)

	reopened, err := image.Open(device)
	require.NoError(t, err)
	assert.Equal(t, formatted.SuperBlock(), reopened.SuperBlock())
}

func TestAllocateDataBlockRoundTrip(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	img, err := image.Format(device, 2*1024*1024)
	require.NoError(t, err)

	id, err := img.AllocateDataBlock()
	require.NoError(t, err)

	payload := make([]byte, format.BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, img.WriteBlock(id, payload))

	readBack := make([]byte, format.BlockSize)
	require.NoError(t, img.ReadBlock(id, readBack))
	assert.Equal(t, payload, readBack)
}

func TestRecoveryClearsTornInode(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	img, err := image.Format(device, 2*1024*1024)
	require.NoError(t, err)

	newID, err := img.AllocateInode()
	require.NoError(t, err)
	require.NoError(t, img.SaveInode(newID, format.Inode{InodeType: format.InodeTypeFile, IsValid: 0}))

	reopened, err := image.Open(device)
	require.NoError(t, err)

	allocated, err := reopened.IsInodeAllocated(newID)
	require.NoError(t, err)
	assert.False(t, allocated, "recovery should free an inode left with IsValid=0")
}

func TestFreeInodeMakesIDReusable(t *testing.T) {
	device := vfstest.NewMemoryDevice(2 * 1024 * 1024)
	img, err := image.Format(device, 2*1024*1024)
	require.NoError(t, err)

	id, err := img.AllocateInode()
	require.NoError(t, err)
	require.NoError(t, img.FreeInode(id))

	reused, err := img.AllocateInode()
	require.NoError(t, err)
	assert.Equal(t, id, reused)
}
