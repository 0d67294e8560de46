package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics holds Prometheus metrics for the broadcast core.
type BroadcastMetrics struct {
	Connections        *prometheus.GaugeVec
	Rooms              prometheus.Gauge
	BroadcastsTotal    *prometheus.CounterVec
	DeliveriesTotal    prometheus.Counter
	SlowClientsEvicted prometheus.Counter
	RoomsSweptTotal    prometheus.Counter
	CommandQueueDepth  prometheus.Gauge
	CommandTimeouts    prometheus.Counter
	Panics             prometheus.Counter
	StopTimeouts       prometheus.Counter
}

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "connections",
			Help:      "Number of registered client connections.",
		}, []string{"transport"}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "rooms",
			Help:      "Number of rooms in the directory.",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_total",
			Help:      "Total number of dispatched events by type and priority.",
		}, []string{"event", "priority"}),
		DeliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of frames queued to client connections.",
		}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "slow_clients_evicted_total",
			Help:      "Connections removed because their send queue was full or closed.",
		}),
		RoomsSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "rooms_swept_total",
			Help:      "Empty rooms removed by housekeeping.",
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "command_queue_depth",
			Help:      "Pending commands in the broadcast loop.",
		}),
		CommandTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "command_timeouts_total",
			Help:      "Commands whose reply did not arrive in time.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "panics_total",
			Help:      "Recovered panics in the broadcast loop.",
		}),
		StopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "stop_timeouts_total",
			Help:      "Shutdowns that exceeded the stop timeout.",
		}),
	}

	reg.MustRegister(
		m.Connections, m.Rooms, m.BroadcastsTotal, m.DeliveriesTotal, m.SlowClientsEvicted,
		m.RoomsSweptTotal, m.CommandQueueDepth, m.CommandTimeouts, m.Panics, m.StopTimeouts,
	)
	return m
}
