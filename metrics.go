package seisgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    cropCounter   prometheus.Counter
//	    cropHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordLoadCrop(voxels int, duration time.Duration, err error) {
//	    p.cropCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordLoadCrop is called after each crop load.
	// voxels is the requested sub-volume size, duration is the total
	// time taken, err is nil if successful.
	RecordLoadCrop(voxels int, duration time.Duration, err error)

	// RecordLoadSlide is called after each slide load.
	RecordLoadSlide(duration time.Duration, err error)

	// RecordStatistics is called after each full statistics pass.
	RecordStatistics(duration time.Duration, err error)

	// RecordQuantizerFit is called after each quantizer fit.
	// quantError is the estimated round-trip error, valid when err is nil.
	RecordQuantizerFit(quantError float32, duration time.Duration, err error)

	// RecordConvert is called after each container conversion.
	RecordConvert(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLoadCrop(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordLoadSlide(time.Duration, error)              {}
func (NoopMetricsCollector) RecordStatistics(time.Duration, error)             {}
func (NoopMetricsCollector) RecordQuantizerFit(float32, time.Duration, error) {}
func (NoopMetricsCollector) RecordConvert(time.Duration, error)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CropCount       atomic.Int64
	CropErrors      atomic.Int64
	CropVoxels      atomic.Int64
	CropTotalNanos  atomic.Int64
	SlideCount      atomic.Int64
	SlideErrors     atomic.Int64
	SlideTotalNanos atomic.Int64
	StatsCount      atomic.Int64
	StatsErrors     atomic.Int64
	FitCount        atomic.Int64
	FitErrors       atomic.Int64
	ConvertCount    atomic.Int64
	ConvertErrors   atomic.Int64
}

// RecordLoadCrop implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoadCrop(voxels int, duration time.Duration, err error) {
	b.CropCount.Add(1)
	b.CropVoxels.Add(int64(voxels))
	b.CropTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CropErrors.Add(1)
	}
}

// RecordLoadSlide implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoadSlide(duration time.Duration, err error) {
	b.SlideCount.Add(1)
	b.SlideTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SlideErrors.Add(1)
	}
}

// RecordStatistics implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStatistics(duration time.Duration, err error) {
	b.StatsCount.Add(1)
	if err != nil {
		b.StatsErrors.Add(1)
	}
}

// RecordQuantizerFit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuantizerFit(quantError float32, duration time.Duration, err error) {
	b.FitCount.Add(1)
	if err != nil {
		b.FitErrors.Add(1)
	}
}

// RecordConvert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConvert(duration time.Duration, err error) {
	b.ConvertCount.Add(1)
	if err != nil {
		b.ConvertErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CropCount:     b.CropCount.Load(),
		CropErrors:    b.CropErrors.Load(),
		CropVoxels:    b.CropVoxels.Load(),
		CropAvgNanos:  b.getAvgCropNanos(),
		SlideCount:    b.SlideCount.Load(),
		SlideErrors:   b.SlideErrors.Load(),
		SlideAvgNanos: b.getAvgSlideNanos(),
		StatsCount:    b.StatsCount.Load(),
		StatsErrors:   b.StatsErrors.Load(),
		FitCount:      b.FitCount.Load(),
		FitErrors:     b.FitErrors.Load(),
		ConvertCount:  b.ConvertCount.Load(),
		ConvertErrors: b.ConvertErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgCropNanos() int64 {
	count := b.CropCount.Load()
	if count == 0 {
		return 0
	}
	return b.CropTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgSlideNanos() int64 {
	count := b.SlideCount.Load()
	if count == 0 {
		return 0
	}
	return b.SlideTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CropCount     int64
	CropErrors    int64
	CropVoxels    int64
	CropAvgNanos  int64
	SlideCount    int64
	SlideErrors   int64
	SlideAvgNanos int64
	StatsCount    int64
	StatsErrors   int64
	FitCount      int64
	FitErrors     int64
	ConvertCount  int64
	ConvertErrors int64
}
