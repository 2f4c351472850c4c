package chat

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Mutations  *prometheus.CounterVec
	Broadcasts prometheus.Counter
	Clients    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatline",
			Name:      "record_mutations_total",
			Help:      "Record writes and removals, by operation.",
		}, []string{"op"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatline",
			Name:      "snapshot_broadcasts_total",
			Help:      "Snapshots fanned out to subscribers.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatline",
			Name:      "subscribers",
			Help:      "Connected change-feed subscribers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Mutations, m.Broadcasts, m.Clients)
	}
	return m
}
