package indexer

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "paywall_indexer_events_total", Help: "Events seen by the range processor"},
		[]string{"kind", "status"},
	)
	rangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "paywall_indexer_range_duration_seconds", Help: "Range processing latency", Buckets: prometheus.DefBuckets},
		[]string{"status"},
	)
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "paywall_indexer_poll_ticks_total", Help: "Poll ticks by outcome"},
		[]string{"status"},
	)
	lastProcessedBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "paywall_indexer_last_processed_block", Help: "Current watermark"},
	)
	chainHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "paywall_indexer_chain_height", Help: "Latest observed chain height"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, rangeDuration, pollTicksTotal, lastProcessedBlock, chainHeight)
}
