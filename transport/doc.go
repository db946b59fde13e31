// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport holds socket address helpers shared by the non-blocking
// socket transports in its subpackages.
package transport
