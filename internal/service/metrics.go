package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	priceIndexProducts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetindex_price_index_products_total",
		Help: "Products written to the price index.",
	})

	priceIndexCellsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetindex_price_index_cells_failed_total",
		Help: "Price index cells skipped because a price could not be computed.",
	})

	priceIndexRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facetindex_price_index_run_duration_seconds",
		Help:    "Duration of one price index invocation.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})

	resolverEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facetindex_resolver_entries",
		Help: "Layered category entries produced by the last resolution.",
	})

	resultCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetindex_result_cache_requests_total",
		Help: "Result cache lookups by outcome.",
	}, []string{"result"})

	resultCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetindex_result_cache_invalidations_total",
		Help: "Wholesale result cache invalidations.",
	})
)
