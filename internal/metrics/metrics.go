// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package metrics

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/juju/imagereaper/core/image"
)

const metricsNamespace = "imagereaper"

// JobName is the Pushgateway job the run metrics are grouped under.
const JobName = "imagereaper"

// Collector is a prometheus.Collector that collects metrics about a reaper
// run. It implements reaper.Recorder.
type Collector struct {
	imagesFetched      *prometheus.CounterVec
	imagesSelected     *prometheus.CounterVec
	imagesDestroyed    *prometheus.CounterVec
	destroyFailures    *prometheus.CounterVec
	snapshotsDeleted   *prometheus.CounterVec
	snapshotsOrphaned  *prometheus.CounterVec
	snapshotsReconcile *prometheus.CounterVec
	regionFailures     *prometheus.CounterVec
	regionDuration     *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      name,
				Help:      help,
			}, []string{"region"},
		)
	}
	return &Collector{
		imagesFetched:      counter("images_fetched_total", "The number of eligible images found."),
		imagesSelected:     counter("images_selected_total", "The number of images selected for destruction."),
		imagesDestroyed:    counter("images_destroyed_total", "The number of images deregistered."),
		destroyFailures:    counter("destroy_failures_total", "The number of images that could not be deregistered."),
		snapshotsDeleted:   counter("snapshots_deleted_total", "The number of snapshots deleted with their image."),
		snapshotsOrphaned:  counter("snapshots_orphaned_total", "The number of snapshots left behind by a deregistered image."),
		snapshotsReconcile: counter("snapshots_reconciled_total", "The number of orphaned snapshots deleted by reconciliation."),
		regionFailures:     counter("region_failures_total", "The number of regions that failed."),
		regionDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "region_duration_seconds",
				Help:      "The time taken to reap a region.",
			}, []string{"region"},
		),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.imagesFetched,
		c.imagesSelected,
		c.imagesDestroyed,
		c.destroyFailures,
		c.snapshotsDeleted,
		c.snapshotsOrphaned,
		c.snapshotsReconcile,
		c.regionFailures,
		c.regionDuration,
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range c.collectors() {
		collector.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range c.collectors() {
		collector.Collect(ch)
	}
}

// ImagesFetched is part of the reaper.Recorder interface.
func (c *Collector) ImagesFetched(region string, n int) {
	c.imagesFetched.WithLabelValues(region).Add(float64(n))
}

// ImagesSelected is part of the reaper.Recorder interface.
func (c *Collector) ImagesSelected(region string, n int) {
	c.imagesSelected.WithLabelValues(region).Add(float64(n))
}

// ImageDestroyed is part of the reaper.Recorder interface.
func (c *Collector) ImageDestroyed(region string, d image.Destruction) {
	if d.Deregistered {
		c.imagesDestroyed.WithLabelValues(region).Inc()
	}
	c.snapshotsDeleted.WithLabelValues(region).Add(float64(len(d.DeletedSnapshots)))
	c.snapshotsOrphaned.WithLabelValues(region).Add(float64(len(d.OrphanedSnapshots)))
}

// DestroyFailed is part of the reaper.Recorder interface.
func (c *Collector) DestroyFailed(region string) {
	c.destroyFailures.WithLabelValues(region).Inc()
}

// SnapshotsReconciled is part of the reaper.Recorder interface.
func (c *Collector) SnapshotsReconciled(region string, n int) {
	c.snapshotsReconcile.WithLabelValues(region).Add(float64(n))
}

// RegionFinished is part of the reaper.Recorder interface.
func (c *Collector) RegionFinished(region string, elapsed time.Duration, err error) {
	c.regionDuration.WithLabelValues(region).Set(elapsed.Seconds())
	if err != nil {
		c.regionFailures.WithLabelValues(region).Inc()
	}
}

// Push sends the collected metrics to the Pushgateway at url, replacing
// any metrics previously pushed for JobName.
func (c *Collector) Push(ctx context.Context, url string) error {
	err := push.New(url, JobName).Collector(c).PushContext(ctx)
	return errors.Annotatef(err, "pushing metrics to %s", url)
}
