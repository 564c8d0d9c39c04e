package errors

// The error kinds surfaced at the API boundary, per the storage engine's
// error handling design: nothing is retried, and the recovery pass at open
// time is the only place corrupt state is repaired.

// ErrInvalidData indicates the super block's magic key didn't match what
// this library writes; the file is not one of our images, or is corrupted
// beyond the magic key.
const ErrInvalidData = DiskoError("invalid data")

// ErrNotFound indicates a path segment doesn't exist in its parent
// directory, or a directory entry's target inode has been deallocated.
const ErrNotFound = DiskoError("no such file or directory")

// ErrInvalidInput indicates an argument out of range: a seek that would
// produce a negative position or uses an unknown whence, an image size that
// can't be laid out, or a bit index past the end of a bitmap.
const ErrInvalidInput = DiskoError("invalid argument")

// ErrFileTooLarge indicates a write would need a logical block index at or
// beyond the maximum a file can address (10 direct + 1024 indirect).
const ErrFileTooLarge = DiskoError("file too large")

// ErrExhausted indicates there is no free inode, no free data block, or a
// directory has used all 1034 blocks it can ever grow to.
const ErrExhausted = DiskoError("no space left on device")

// ErrIOFailed wraps a propagated error from the underlying host file.
const ErrIOFailed = DiskoError("input/output error")

// ErrNotADirectory indicates ReadDir or ListDirDetailed was called against
// a regular file's inode.
const ErrNotADirectory = DiskoError("not a directory")
