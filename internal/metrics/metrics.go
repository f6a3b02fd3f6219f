// Package metrics holds the Prometheus metrics of synowatch and the small
// HTTP server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TFMV/synowatch/internal/tree"
)

var (
	TreeWatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synowatch",
		Subsystem: "tree",
		Name:      "watches",
		Help:      "Number of directories currently watched",
	})
	TreeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synowatch",
		Subsystem: "tree",
		Name:      "events_total",
		Help:      "Total number of reported events, per kind",
	}, []string{"kind"})

	IndexCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synowatch",
		Subsystem: "index",
		Name:      "commands_total",
		Help:      "Total number of index commands, per result (ok/failed/dry_run/dropped)",
	}, []string{"result"})
	IndexJournalDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synowatch",
		Subsystem: "index",
		Name:      "journal_depth",
		Help:      "Number of index commands waiting in the retry journal",
	})
)

const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultDryRun  = "dry_run"
	ResultDropped = "dropped" // gave up after too many attempts
)

// ObserveEvents counts a batch of tree events.
func ObserveEvents(events []tree.Event) {
	for _, ev := range events {
		TreeEvents.WithLabelValues(ev.Kind.String()).Inc()
	}
}
