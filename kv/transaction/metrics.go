package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	admittedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "processor",
			Name:      "admitted_total",
			Help:      "Counter of transactions admitted, including re-admissions.",
		}, []string{"mode"})

	committedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "processor",
			Name:      "committed_total",
			Help:      "Counter of committed transactions.",
		}, []string{"mode"})

	abortedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "processor",
			Name:      "aborted_total",
			Help:      "Counter of aborted transactions.",
		}, []string{"mode"})

	occRetryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "processor",
			Name:      "occ_retries_total",
			Help:      "Counter of transactions re-admitted after failed validation.",
		}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(admittedCounter)
	prometheus.MustRegister(committedCounter)
	prometheus.MustRegister(abortedCounter)
	prometheus.MustRegister(occRetryCounter)
}
