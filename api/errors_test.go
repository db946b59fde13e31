package api

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("register: %w", ErrAlreadyRegistered.WithContext("fd", 7))

	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.NotErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, NewError(ErrCodeChannelClosed, "gone"), ErrChannelClosed)
	assert.Contains(t, err.Error(), "fd:7")
}

func TestWithContextLeavesSentinelUntouched(t *testing.T) {
	e := ErrNotRegistered.WithContext("fd", 3)

	assert.Nil(t, ErrNotRegistered.Context)
	assert.Equal(t, map[string]any{"fd": 3}, e.Context)
	assert.Equal(t, map[string]any{"fd": 3, "op": "mod"}, e.WithContext("op", "mod").Context)
	assert.Len(t, e.Context, 1)
}

func TestIOError(t *testing.T) {
	assert.NoError(t, NewIOError("read", nil))

	err := NewIOError("read", io.ErrUnexpectedEOF)
	var ioErr *IOError
	assert.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "read: unexpected EOF", err.Error())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "none", Interest(0).String())
	assert.Equal(t, "read|write", (InterestRead | InterestWrite).String())
	assert.Equal(t, "accept|hangup", (InterestAccept | InterestHangup).String())
	assert.Equal(t, "ExceptionCaught", EventExceptionCaught.String())
	assert.Equal(t, "Unknown", EventKind(0).String())
	assert.Equal(t, "Flush", OpFlush.String())
	assert.Equal(t, "code(99)", ErrorCode(99).String())
	assert.Equal(t, "port unreachable", ErrCodePortUnreachable.String())
}
