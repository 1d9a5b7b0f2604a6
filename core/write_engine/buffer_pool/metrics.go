package bufferpool

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// bpmCtx is used for instrument recording; pool operations carry no caller
// context.
var bpmCtx = context.Background()

// bufferPoolMetrics holds the metric instruments for the buffer pool.
type bufferPoolMetrics struct {
	HitsCounter         metric.Int64Counter
	MissesCounter       metric.Int64Counter
	EvictionsCounter    metric.Int64Counter
	WritebacksCounter   metric.Int64Counter
	PinnedUpDownCounter metric.Int64UpDownCounter
}

// newBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func newBufferPoolMetrics(meter metric.Meter) (*bufferPoolMetrics, error) {
	hitsCounter, err := meter.Int64Counter(
		"marudb.buffer_pool.hits_total",
		metric.WithDescription("Total number of page requests served from the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	missesCounter, err := meter.Int64Counter(
		"marudb.buffer_pool.misses_total",
		metric.WithDescription("Total number of page requests not found in the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"marudb.buffer_pool.evictions_total",
		metric.WithDescription("Total number of frames reclaimed by the replacer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writebacksCounter, err := meter.Int64Counter(
		"marudb.buffer_pool.writebacks_total",
		metric.WithDescription("Total number of dirty pages written back on eviction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinnedUpDownCounter, err := meter.Int64UpDownCounter(
		"marudb.buffer_pool.pinned_pages",
		metric.WithDescription("Number of outstanding page pins."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &bufferPoolMetrics{
		HitsCounter:         hitsCounter,
		MissesCounter:       missesCounter,
		EvictionsCounter:    evictionsCounter,
		WritebacksCounter:   writebacksCounter,
		PinnedUpDownCounter: pinnedUpDownCounter,
	}, nil
}
