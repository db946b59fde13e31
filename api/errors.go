// Package api
// Author: momentics <momentics@gmail.com>
//
// Error kinds shared by the pipeline, the channel and the reactor.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeDuplicateName
	ErrCodeHandlerNotFound
	ErrCodeInvalidHandler
	ErrCodeNotRegistered
	ErrCodeAlreadyRegistered
	ErrCodeNotInEventLoop
	ErrCodeChannelClosed
	ErrCodeLoopClosed
	ErrCodePortUnreachable
	ErrCodeMessageTruncated
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "ok",
	ErrCodeDuplicateName:     "duplicate handler name",
	ErrCodeHandlerNotFound:   "handler not found",
	ErrCodeInvalidHandler:    "invalid handler",
	ErrCodeNotRegistered:     "not registered",
	ErrCodeAlreadyRegistered: "already registered",
	ErrCodeNotInEventLoop:    "not in event loop",
	ErrCodeChannelClosed:     "channel closed",
	ErrCodeLoopClosed:        "event loop closed",
	ErrCodePortUnreachable:   "port unreachable",
	ErrCodeMessageTruncated:  "message truncated",
	ErrCodeInternal:          "internal error",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Common errors used across the library. Match them with errors.Is; errors
// built with NewError and the same code match as well.
var (
	ErrDuplicateName     = NewError(ErrCodeDuplicateName, "duplicate handler name")
	ErrHandlerNotFound   = NewError(ErrCodeHandlerNotFound, "handler not found")
	ErrInvalidHandler    = NewError(ErrCodeInvalidHandler, "handler is neither inbound nor outbound")
	ErrNotRegistered     = NewError(ErrCodeNotRegistered, "channel is not registered")
	ErrAlreadyRegistered = NewError(ErrCodeAlreadyRegistered, "channel is already registered")
	ErrNotInEventLoop    = NewError(ErrCodeNotInEventLoop, "operation must run on the owning event loop")
	ErrChannelClosed     = NewError(ErrCodeChannelClosed, "channel is closed")
	ErrLoopClosed        = NewError(ErrCodeLoopClosed, "event loop is closed")
	ErrPortUnreachable   = NewError(ErrCodePortUnreachable, "port unreachable")
	ErrMessageTruncated  = NewError(ErrCodeMessageTruncated, "message larger than the receive buffer")
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext returns a copy of the error carrying an extra context value.
// The shared sentinels are never mutated.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Code: e.Code, Message: e.Message, Context: ctx}
}

// IOError marks a failure reported by the transport for operation Op.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err as a transport failure, or returns nil when err is nil.
func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
