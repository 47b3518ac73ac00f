// Package metrics holds the process-wide Prometheus instruments, exposed via
// the debug HTTP listener's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemoriesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_memories_stored_total",
		Help: "Memories successfully written to both stores.",
	})

	Recalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_recalls_total",
		Help: "Recall searches served, including empty results.",
	})

	MemoriesForgotten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_memories_forgotten_total",
		Help: "Memories removed by explicit forget calls.",
	})

	ExpiredCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_maintenance_expired_cleaned_total",
		Help: "Memories removed by the cleanup loop because their TTL passed.",
	})

	StaleCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_maintenance_stale_cleaned_total",
		Help: "Memories removed by the cleanup loop as unimportant and unused.",
	})

	ImportanceDecayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermem_maintenance_importance_decayed_total",
		Help: "Records whose importance the decay loop reduced.",
	})

	MaintenanceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermem_maintenance_errors_total",
		Help: "Maintenance loop failures by loop name.",
	}, []string{"loop"})
)
