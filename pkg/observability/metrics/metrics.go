package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	RoundsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "rounds_created_total",
		Help:      "Total number of consensus rounds created",
	})

	RoundsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "rounds_completed_total",
		Help:      "Total number of consensus rounds whose fate became known",
	}, []string{"result"})

	RoundTermRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "round_term_rejections_total",
		Help:      "Total number of rounds rejected by the bound-term check",
	})

	LeaderReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "leader_ready",
		Help:      "1 if this node is a leader that passed all readiness gates, else 0",
	})

	HookFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "hook_failures_total",
		Help:      "Total number of fault-hook failures by lifecycle point",
	}, []string{"point"})

	LeaseAcks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "lease",
		Name:      "acks_total",
		Help:      "Total number of peer lease acknowledgements recorded",
	})

	LeasePeersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "lease",
		Name:      "peers_live",
		Help:      "Number of peers currently holding an unexpired lease ack",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(RoundsCreated)
		prometheus.MustRegister(RoundsCompleted)
		prometheus.MustRegister(RoundTermRejections)
		prometheus.MustRegister(LeaderReady)
		prometheus.MustRegister(HookFailures)
		prometheus.MustRegister(LeaseAcks)
		prometheus.MustRegister(LeasePeersLive)
	})
}
