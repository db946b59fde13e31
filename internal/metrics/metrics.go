// File: internal/metrics/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus counters shared by the reactor, the channels and the pipeline.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hioload"

var (
	LoopWakeups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_wakeups_total",
		Help:      "The total number of times an event loop returned from its readiness wait.",
	})

	LoopTasks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_tasks_total",
		Help:      "The total number of tasks executed by event loops.",
	})

	LoopPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_poll_errors_total",
		Help:      "The total number of failed readiness waits.",
	})

	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_messages_read_total",
		Help:      "The total number of messages delivered to pipelines by message channels.",
	})

	MessagesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_writes_total",
		Help:      "The total number of outbound entries written by message channels.",
	})

	WriteBackpressure = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_write_backpressure_total",
		Help:      "The total number of times a channel exhausted its write spins and waited for writability.",
	})

	HandlerExceptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_exceptions_total",
		Help:      "The total number of handler failures converted to ExceptionCaught events.",
	})
)
