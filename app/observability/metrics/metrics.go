package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	DirectoryCallsTotal        metric.Int64Counter
	DirectoryErrorsTotal       metric.Int64Counter
	CacheHitsTotal             metric.Int64Counter
	CacheMissesTotal           metric.Int64Counter
	CacheDemotionsTotal        metric.Int64Counter
	AggregationDurationSeconds metric.Float64Histogram
	CrawlItemsTotal            metric.Int64Counter
	IngestionJobsTotal         metric.Int64Counter
	DbQueryErrorsTotal         metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics creates the instruments once from the global MeterProvider.
// Until a provider is installed the global one is a no-op, which keeps tests
// that never call tracer.InitTracingAndMetrics working.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("friend")
		m := &AppMetrics{}
		m.DirectoryCallsTotal = counter(meter, "directory_calls_total", "Places directory API calls issued", "{call}")
		m.DirectoryErrorsTotal = counter(meter, "directory_errors_total", "Places directory API calls that failed", "{error}")
		m.CacheHitsTotal = counter(meter, "response_cache_hits_total", "Midpoint response cache hits", "{hit}")
		m.CacheMissesTotal = counter(meter, "response_cache_misses_total", "Midpoint response cache misses", "{miss}")
		m.CacheDemotionsTotal = counter(meter, "response_cache_demotions_total", "Shared cache backend demotions to local", "{event}")
		m.CrawlItemsTotal = counter(meter, "crawl_items_total", "Reviews and photos collected", "{item}")
		m.IngestionJobsTotal = counter(meter, "ingestion_jobs_total", "Ingestion jobs processed", "{job}")
		m.DbQueryErrorsTotal = counter(meter, "db_query_errors_total", "Database query errors", "{error}")

		var err error
		m.AggregationDurationSeconds, err = meter.Float64Histogram(
			"aggregation_duration_seconds",
			metric.WithDescription("Duration of midpoint aggregations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create aggregation_duration_seconds: %v", err)
		}
		appMetrics = m
	})
}

func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		log.Fatalf("Metrics: Failed to create %s: %v", name, err)
	}
	return c
}

// Get returns the instruments, initializing them on first use.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
