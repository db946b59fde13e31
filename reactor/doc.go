// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the event loop that drives channels: a goroutine
// locked to one OS thread that waits for descriptor readiness with epoll,
// dispatches it to registered handlers and runs submitted tasks in FIFO
// order. A Group spreads channels over several loops.
package reactor
