package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/nullpointer-fs/imagevfs/errors"
	"github.com/stretchr/testify/assert"
)

func TestDiskoErrorWithMessage(t *testing.T) {
	newErr := errors.ErrNotFound.WithMessage("/home/u/h.txt")
	assert.Equal(t, "no such file or directory: /home/u/h.txt", newErr.Error())
	assert.ErrorIs(t, newErr, errors.ErrNotFound)
}

func TestDiskoErrorWrap(t *testing.T) {
	originalErr := stderrors.New("short read")
	newErr := errors.ErrIOFailed.Wrap(originalErr)

	assert.Equal(t, "input/output error: short read", newErr.Error())
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, errors.ErrIOFailed, "sentinel not preserved")
}

func TestDiskoErrorDoesNotMatchUnrelatedSentinel(t *testing.T) {
	newErr := errors.ErrExhausted.WithMessage("inode table full")
	assert.NotErrorIs(t, newErr, errors.ErrNotFound)
}
