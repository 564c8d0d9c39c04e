package stream_test

import (
	"bytes"
	"testing"

	"github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
	"github.com/nullpointer-fs/imagevfs/image"
	"github.com/nullpointer-fs/imagevfs/stream"
	"github.com/nullpointer-fs/imagevfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, imageSize int64) (*image.Image, uint32) {
	t.Helper()
	device := vfstest.NewMemoryDevice(imageSize)
	img, err := image.Format(device, imageSize)
	require.NoError(t, err)

	id, err := img.AllocateInode()
	require.NoError(t, err)
	require.NoError(t, img.SaveInode(id, format.Inode{InodeType: format.InodeTypeFile, IsValid: 1}))

	return img, id
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	payload := []byte("hello, file system")
	for written := 0; written < len(payload); {
		n, err := f.Write(payload[written:])
		require.NoError(t, err)
		written += n
	}

	_, err := f.Seek(0, stream.SeekStart)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	total := 0
	for total < len(readBack) {
		n, err := f.Read(readBack[total:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}

	assert.Equal(t, payload, readBack[:total])
}

func TestReadPastEndOfFileReturnsZero(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	buf := make([]byte, 16)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeekNegativeIsRejected(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	_, err := f.Seek(-1, stream.SeekStart)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestSeekEndThenWriteExtendsSize(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	_, err := f.Write([]byte("abc"))
	require.NoError(t, err)

	pos, err := f.Seek(0, stream.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 3, pos)

	_, err = f.Write([]byte("def"))
	require.NoError(t, err)

	inode, err := img.GetInode(id)
	require.NoError(t, err)
	assert.EqualValues(t, 6, inode.Size)
}

func TestWriteAcrossBlockBoundaryRequiresMultipleCalls(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	payload := bytes.Repeat([]byte{0xAB}, format.BlockSize+100)
	total := 0
	for total < len(payload) {
		n, err := f.Write(payload[total:])
		require.NoError(t, err)
		require.NotZero(t, n)
		total += n
	}

	inode, err := img.GetInode(id)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), inode.Size)
}

func TestWritePastDirectBlocksAllocatesIndirectBlock(t *testing.T) {
	img, id := newTestFile(t, 2*1024*1024)
	f := stream.New(img, id)

	// 10 direct blocks hold 10*BlockSize bytes; anything past that must
	// land in the indirect block.
	payload := bytes.Repeat([]byte{0xCD}, format.DirectBlockCount*format.BlockSize+100)
	total := 0
	for total < len(payload) {
		n, err := f.Write(payload[total:])
		require.NoError(t, err)
		require.NotZero(t, n)
		total += n
	}

	inode, err := img.GetInode(id)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), inode.Size)
	assert.NotZero(t, inode.IndirectBlocks)
}

func TestLargeFileContentsStayConsistentAcrossHandles(t *testing.T) {
	img, id := newTestFile(t, 5*1024*1024)

	writer := stream.New(img, id)
	payload := make([]byte, 100*1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	for total := 0; total < len(payload); {
		n, err := writer.Write(payload[total:])
		require.NoError(t, err)
		total += n
	}

	reader := stream.New(img, id)
	readBack := make([]byte, len(payload))
	for total := 0; total < len(readBack); {
		n, err := reader.Read(readBack[total:])
		require.NoError(t, err)
		require.NotZero(t, n)
		total += n
	}

	assert.Equal(t, payload, readBack)
}
