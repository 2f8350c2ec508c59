package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"gopherboot/kernel/mem/pmm/allocator"
)

var (
	// metricsFreeBytes exposes the free physical memory tracked by the allocator.
	metricsFreeBytes = prometheus.NewDesc(
		"gopherboot_allocator_free_bytes",
		"Number of free physical memory bytes tracked by the allocator.",
		nil,
		nil,
	)

	// metricsFreeRanges exposes the number of disjoint free ranges.
	metricsFreeRanges = prometheus.NewDesc(
		"gopherboot_allocator_free_ranges",
		"Number of disjoint free physical memory ranges tracked by the allocator.",
		nil,
		nil,
	)
)

// allocatorCollector reads the shared allocator state on every scrape.
type allocatorCollector struct{}

// Describe implements prometheus.Collector.
func (allocatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- metricsFreeBytes
	ch <- metricsFreeRanges
}

// Collect implements prometheus.Collector.
func (allocatorCollector) Collect(ch chan<- prometheus.Metric) {
	free, ranges := allocator.FreeMemory()
	ch <- prometheus.MustNewConstMetric(metricsFreeBytes, prometheus.GaugeValue, float64(free))
	ch <- prometheus.MustNewConstMetric(metricsFreeRanges, prometheus.GaugeValue, float64(ranges))
}

// simMetrics holds the counters updated by the simulation stages.
type simMetrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
}

func newSimMetrics() *simMetrics {
	m := &simMetrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopherboot_sim_operations_total",
			Help: "Number of allocator operations performed by each simulated stage.",
		}, []string{"stage", "op", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopherboot_sim_allocated_bytes_total",
			Help: "Number of bytes granted to each simulated stage.",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(allocatorCollector{}, m.operations, m.bytes)
	return m
}

// write encodes every registered metric in the text exposition format.
func (m *simMetrics) write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrap(err, "encoding metrics")
		}
	}
	return nil
}
