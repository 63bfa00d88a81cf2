package slot

import "github.com/prometheus/client_golang/prometheus"

var slotEvictions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "loom_slot_evictions_total",
		Help: "Total slot occupants replaced by a newly acquired resource, by category.",
	},
	[]string{"category"},
)

func init() {
	prometheus.MustRegister(slotEvictions)
}
