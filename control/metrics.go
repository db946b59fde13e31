// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus exposition of the loop and channel counters.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-nio/reactor"
)

// MetricsHandler serves the default registry, which holds the counters
// maintained by the loops, channels and pipelines.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterGroup exports the task queue depth of every loop in g.
func RegisterGroup(reg prometheus.Registerer, g *reactor.Group) error {
	for i, l := range g.Loops() {
		l := l
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "hioload",
			Name:        "loop_pending_tasks",
			Help:        "The number of tasks queued on an event loop.",
			ConstLabels: prometheus.Labels{"loop": strconv.Itoa(i)},
		}, func() float64 { return float64(l.Pending()) })
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}
