package tracker

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeEnqueued   = "enqueued"
	outcomeOptedOut   = "opted_out"
	outcomeSampledOut = "sampled_out"
	outcomeIgnored    = "ignored"
	outcomeInvalid    = "invalid"
)

var (
	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_tracker_records_total",
		Help: "Tracked events by outcome (enqueued, opted_out, sampled_out, ignored, invalid)",
	}, []string{"outcome"})

	activeScreens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apptrack_tracker_active_screens",
		Help: "Number of screens currently in the foreground",
	})
)

func init() {
	prometheus.MustRegister(recordsTotal)
	prometheus.MustRegister(activeScreens)
}
