// README: Prometheus counters for cron driver results, scraped by the
// outer ops layer. Monitoring plumbing, not analytics.
package cron

import "github.com/prometheus/client_golang/prometheus"

var (
	processedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_cron_processed_total",
		Help: "Items a cron driver examined, by job.",
	}, []string{"job"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_cron_errors_total",
		Help: "Per-item failures a cron driver swallowed and counted, by job.",
	}, []string{"job"})

	bidWindowsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_bid_windows_open",
		Help: "Open bid windows observed during the most recent closeBidWindows sweep.",
	})
)

func init() {
	prometheus.MustRegister(processedTotal, errorsTotal, bidWindowsOpen)
}

func recordResult(job string, processed, errs int) {
	processedTotal.WithLabelValues(job).Add(float64(processed))
	errorsTotal.WithLabelValues(job).Add(float64(errs))
}
