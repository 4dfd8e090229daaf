package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on the Prometheus endpoint when the service is started with
// monitoring enabled.
var (
	callbacksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgw_callbacks_ingested_total",
		Help: "Chain callbacks processed by the ingester, by transaction status.",
	}, []string{"status"})

	transactionsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cgw_transactions_built_total",
		Help: "Unsigned transactions built successfully.",
	})

	broadcastsDone = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cgw_broadcasts_total",
		Help: "Broadcast attempts, by outcome.",
	}, []string{"outcome"})

	resyncsDone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cgw_resyncs_total",
		Help: "Full-resync snapshots produced after a sync-required signal.",
	})
)
