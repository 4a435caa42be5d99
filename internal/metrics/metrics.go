// Registers:
//
//	#ODLLive_detections_total
//	#ODLLive_venue_messages_total
//	#ODLLive_ledger_messages_total
//	#ODLLive_reconnects_total
//	#ODLLive_evictions_total
//	#ODLLive_queue_depth
//	#ODLLive_xrp_usd_price
//	#ODLLive_window_* rolling 24h summary
//	#go_* and process_* system metrics
//
// Exposes them on :2112/metrics using Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once           sync.Once
	detections     prometheus.Counter
	venueMessages  *prometheus.CounterVec
	ledgerMessages prometheus.Counter
	reconnects     *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	xrpUSDPrice    prometheus.Gauge
	windowCount    prometheus.Gauge
	windowXRP      prometheus.Gauge
	windowUSD      prometheus.Gauge
)

func Init() {
	once.Do(func() {
		detections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ODLLive_detections_total",
			Help: "Number of ODL transfers detected",
		})

		venueMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ODLLive_venue_messages_total",
				Help: "Number of messages consumed per market venue",
			},
			[]string{"venue"},
		)

		ledgerMessages = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ODLLive_ledger_messages_total",
			Help: "Number of XRP Ledger stream messages consumed",
		})

		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ODLLive_reconnects_total",
				Help: "Number of connection re-establishments per source",
			},
			[]string{"source"},
		)

		evictions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ODLLive_evictions_total",
				Help: "Number of market events dropped past retention",
			},
			[]string{"venue"},
		)

		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ODLLive_queue_depth",
				Help: "Retained market events per venue",
			},
			[]string{"venue"},
		)

		xrpUSDPrice = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ODLLive_xrp_usd_price",
			Help: "Last fetched XRP/USD price",
		})

		windowCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ODLLive_window_detections",
			Help: "Detections in the rolling 24h window",
		})

		windowXRP = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ODLLive_window_xrp",
			Help: "Total XRP detected in the rolling 24h window",
		})

		windowUSD = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ODLLive_window_usd",
			Help: "Total USD value detected in the rolling 24h window",
		})

		_ = prometheus.Register(detections)
		_ = prometheus.Register(venueMessages)
		_ = prometheus.Register(ledgerMessages)
		_ = prometheus.Register(reconnects)
		_ = prometheus.Register(evictions)
		_ = prometheus.Register(queueDepth)
		_ = prometheus.Register(xrpUSDPrice)
		_ = prometheus.Register(windowCount)
		_ = prometheus.Register(windowXRP)
		_ = prometheus.Register(windowUSD)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe("0.0.0.0:2112", nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementDetection counts one emitted detection.
func IncrementDetection() {
	if detections != nil {
		detections.Inc()
	}
}

// IncrementVenueMessage counts one consumed venue message.
func IncrementVenueMessage(venue string) {
	if venueMessages != nil {
		venueMessages.WithLabelValues(venue).Inc()
	}
}

// IncrementLedgerMessage counts one consumed ledger stream message.
func IncrementLedgerMessage() {
	if ledgerMessages != nil {
		ledgerMessages.Inc()
	}
}

// IncrementReconnect counts one reconnect of the named source.
func IncrementReconnect(source string) {
	if reconnects != nil {
		reconnects.WithLabelValues(source).Inc()
	}
}

// AddEvictions counts n evicted events for a venue.
func AddEvictions(venue string, n int) {
	if evictions != nil && n > 0 {
		evictions.WithLabelValues(venue).Add(float64(n))
	}
}

// SetQueueDepth records the current retained event count for a venue.
func SetQueueDepth(venue string, depth int) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(venue).Set(float64(depth))
	}
}

// SetPrice records the last fetched XRP/USD price.
func SetPrice(price float64) {
	if xrpUSDPrice != nil {
		xrpUSDPrice.Set(price)
	}
}

// SetWindow records the rolling 24h summary.
func SetWindow(count int, xrp, usd float64) {
	if windowCount != nil {
		windowCount.Set(float64(count))
		windowXRP.Set(xrp)
		windowUSD.Set(usd)
	}
}
