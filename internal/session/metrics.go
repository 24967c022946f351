package session

import "github.com/prometheus/client_golang/prometheus"

var (
	loadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_session_load_total",
			Help: "Session loads by source (file, blob, none)",
		},
		[]string{"provider", "source"},
	)
	saveFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_session_save_failure_total",
			Help: "Failed local session writes",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homesafe_session_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for session persistence.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loadTotal,
		saveFailure,
		remotePersistOK,
	}
}
