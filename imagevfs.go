// Package imagevfs is a single-file virtual file system: a whole directory
// tree of files and subdirectories packed into one disk image, addressable
// without mounting anything or touching a host file system beyond the one
// image file.
//
// A fresh image is laid out as a super block, an inode bitmap, a data
// bitmap, an inode table, and a data region, in that order; see the format
// package for the exact byte layout. Every directory is itself a file: a
// stream of fixed-size entry records pointing at other inodes.
package imagevfs

import (
	"strings"
	"time"

	"github.com/nullpointer-fs/imagevfs/blockmap"
	"github.com/nullpointer-fs/imagevfs/directory"
	ferrors "github.com/nullpointer-fs/imagevfs/errors"
	"github.com/nullpointer-fs/imagevfs/format"
	"github.com/nullpointer-fs/imagevfs/image"
	"github.com/nullpointer-fs/imagevfs/stream"
)

// VFS is a handle on one open disk image.
type VFS struct {
	img *image.Image
}

// DirEntryInfo is one row of a detailed directory listing: a name paired
// with the metadata of the inode it names.
type DirEntryInfo struct {
	Name        string
	InodeID     uint32
	IsDirectory bool
	Size        uint64
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Create formats a brand new image of imageSize bytes at path and returns
// it open, with an empty root directory already containing "." and "..".
func Create(path string, imageSize int64) (*VFS, error) {
	img, err := image.CreateFile(path, imageSize)
	if err != nil {
		return nil, err
	}

	if err := directory.Insert(img, image.RootInodeID, ".", image.RootInodeID); err != nil {
		img.Close()
		return nil, err
	}
	if err := directory.Insert(img, image.RootInodeID, "..", image.RootInodeID); err != nil {
		img.Close()
		return nil, err
	}
	if err := img.Sync(); err != nil {
		img.Close()
		return nil, err
	}

	return &VFS{img: img}, nil
}

// Open opens an existing image at path, running the torn-write recovery
// pass before returning.
func Open(path string) (*VFS, error) {
	img, err := image.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &VFS{img: img}, nil
}

// Close flushes and releases the backing image file.
func (vfs *VFS) Close() error {
	return vfs.img.Close()
}

// splitPath breaks an absolute or relative path into its non-empty
// segments; "/a//b/" and "a/b" both yield ["a", "b"].
func splitPath(path string) []string {
	var segments []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// splitParent separates a path into its parent directory path and final
// name component.
func splitParent(path string) (string, string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// resolve walks path from the root inode, returning the inode ID it names.
func (vfs *VFS) resolve(path string) (uint32, error) {
	current := uint32(image.RootInodeID)
	for _, segment := range splitPath(path) {
		next, err := directory.Find(vfs.img, current, segment)
		if err != nil {
			return 0, err
		}
		current = next
	}
	return current, nil
}

// resolveParent resolves the parent directory of path, returning its inode
// ID alongside path's final name component. An empty parent path resolves
// to the root.
func (vfs *VFS) resolveParent(path string) (uint32, string, error) {
	parentPath, name := splitParent(path)
	if parentPath == "" {
		return image.RootInodeID, name, nil
	}
	parentID, err := vfs.resolve(parentPath)
	if err != nil {
		return 0, "", err
	}
	return parentID, name, nil
}

// CreateDir creates a new, empty directory at path, whose immediate parent
// must already exist.
func (vfs *VFS) CreateDir(path string) error {
	parentID, name, err := vfs.resolveParent(path)
	if err != nil {
		return err
	}

	newID, err := vfs.img.AllocateInode()
	if err != nil {
		return err
	}

	now := uint64(time.Now().Unix())
	inode := format.Inode{
		InodeType:  format.InodeTypeDirectory,
		IsValid:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := vfs.img.SaveInode(newID, inode); err != nil {
		return err
	}

	if err := directory.Insert(vfs.img, parentID, name, newID); err != nil {
		return err
	}
	if err := directory.Insert(vfs.img, newID, ".", newID); err != nil {
		return err
	}
	if err := directory.Insert(vfs.img, newID, "..", parentID); err != nil {
		return err
	}
	return vfs.img.Sync()
}

// CreateFile creates a new, empty regular file at path and returns a handle
// to it positioned at the start.
func (vfs *VFS) CreateFile(path string) (*stream.File, error) {
	parentID, name, err := vfs.resolveParent(path)
	if err != nil {
		return nil, err
	}

	newID, err := vfs.img.AllocateInode()
	if err != nil {
		return nil, err
	}

	now := uint64(time.Now().Unix())
	inode := format.Inode{
		InodeType:  format.InodeTypeFile,
		IsValid:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := vfs.img.SaveInode(newID, inode); err != nil {
		return nil, err
	}

	if err := directory.Insert(vfs.img, parentID, name, newID); err != nil {
		return nil, err
	}
	if err := vfs.img.Sync(); err != nil {
		return nil, err
	}

	return stream.New(vfs.img, newID), nil
}

// OpenFile resolves path and returns a handle to it, positioned at the
// start. Multiple handles on the same file may be open concurrently.
func (vfs *VFS) OpenFile(path string) (*stream.File, error) {
	id, err := vfs.resolve(path)
	if err != nil {
		return nil, err
	}
	return stream.New(vfs.img, id), nil
}

// ReadDir returns the names of every active entry in the directory at path.
func (vfs *VFS) ReadDir(path string) ([]string, error) {
	id, err := vfs.resolve(path)
	if err != nil {
		return nil, err
	}

	inode, err := vfs.img.GetInode(id)
	if err != nil {
		return nil, err
	}
	if !inode.IsDirectory() {
		return nil, ferrors.ErrNotADirectory.WithMessage("'" + path + "' is not a directory")
	}

	return directory.Enumerate(vfs.img, id)
}

// ListDirDetailed returns the same entries as ReadDir, paired with each
// entry's inode metadata, the way a long directory listing would.
func (vfs *VFS) ListDirDetailed(path string) ([]DirEntryInfo, error) {
	id, err := vfs.resolve(path)
	if err != nil {
		return nil, err
	}

	inode, err := vfs.img.GetInode(id)
	if err != nil {
		return nil, err
	}
	if !inode.IsDirectory() {
		return nil, ferrors.ErrNotADirectory.WithMessage("'" + path + "' is not a directory")
	}

	entries, err := directory.EnumerateEntries(vfs.img, id)
	if err != nil {
		return nil, err
	}

	infos := make([]DirEntryInfo, 0, len(entries))
	for _, entry := range entries {
		childInode, err := vfs.img.GetInode(entry.InodeID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, DirEntryInfo{
			Name:        entry.Name,
			InodeID:     entry.InodeID,
			IsDirectory: childInode.IsDirectory(),
			Size:        childInode.Size,
			CreatedAt:   time.Unix(int64(childInode.CreatedAt), 0),
			ModifiedAt:  time.Unix(int64(childInode.ModifiedAt), 0),
		})
	}
	return infos, nil
}

// Stat resolves path and returns its inode.
func (vfs *VFS) Stat(path string) (format.Inode, error) {
	id, err := vfs.resolve(path)
	if err != nil {
		return format.Inode{}, err
	}
	return vfs.img.GetInode(id)
}

// Remove deletes the file or directory at path: its data and indirect
// blocks are freed, its inode is freed, and its directory entry is
// tombstoned. It does not recurse into a non-empty directory; removing one
// only reclaims its own blocks; any children it still lists become
// unreachable dead entries, matching the storage engine's original
// behavior.
func (vfs *VFS) Remove(path string) error {
	parentID, name, err := vfs.resolveParent(path)
	if err != nil {
		return err
	}

	childID, err := directory.Find(vfs.img, parentID, name)
	if err != nil {
		return err
	}

	inode, err := vfs.img.GetInode(childID)
	if err != nil {
		return err
	}

	if err := blockmap.ReleaseBlocks(vfs.img, vfs.img, inode); err != nil {
		return err
	}
	if err := vfs.img.FreeInode(childID); err != nil {
		return err
	}

	if err := directory.SetActive(vfs.img, parentID, name, false); err != nil {
		return err
	}
	return vfs.img.Sync()
}
