// File: api/events.go
// Package api defines the event and operation kinds that travel through a pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventKind identifies an inbound event, propagated head to tail.
type EventKind uint8

const (
	EventChannelRegistered EventKind = iota + 1
	EventChannelUnregistered
	EventChannelActive
	EventChannelInactive
	EventChannelRead
	EventChannelReadComplete
	EventExceptionCaught
	EventUserEvent
)

func (k EventKind) String() string {
	switch k {
	case EventChannelRegistered:
		return "ChannelRegistered"
	case EventChannelUnregistered:
		return "ChannelUnregistered"
	case EventChannelActive:
		return "ChannelActive"
	case EventChannelInactive:
		return "ChannelInactive"
	case EventChannelRead:
		return "ChannelRead"
	case EventChannelReadComplete:
		return "ChannelReadComplete"
	case EventExceptionCaught:
		return "ExceptionCaught"
	case EventUserEvent:
		return "UserEvent"
	default:
		return "Unknown"
	}
}

// OpKind identifies an outbound operation, propagated towards the head.
type OpKind uint8

const (
	OpRead OpKind = iota + 1
	OpWrite
	OpFlush
	OpClose
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpFlush:
		return "Flush"
	case OpClose:
		return "Close"
	default:
		return "Unknown"
	}
}
