// Package api
// Author: momentics
//
// Executor contract: the execution affinity of a pipeline context.

package api

// Executor runs tasks on one goroutine in submission order.
type Executor interface {
	// Execute schedules task for execution. It returns ErrLoopClosed once the
	// executor no longer accepts work.
	Execute(task func()) error

	// InEventLoop reports whether the caller already runs on the executor.
	InEventLoop() bool
}
