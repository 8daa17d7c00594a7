// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reaper

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/time/rate"

	"github.com/juju/imagereaper/core/image"
	"github.com/juju/imagereaper/core/logger"
	"github.com/juju/imagereaper/internal/provider/ec2"
)

// ClientFactory returns an EC2 client bound to region.
type ClientFactory func(ctx context.Context, region string) (ec2.Client, error)

// Recorder is told about the progress of a run. It is implemented by
// internal/metrics.
type Recorder interface {
	ImagesFetched(region string, n int)
	ImagesSelected(region string, n int)
	ImageDestroyed(region string, d image.Destruction)
	DestroyFailed(region string)
	SnapshotsReconciled(region string, n int)
	RegionFinished(region string, elapsed time.Duration, err error)
}

// Config defines the operation of a Reaper.
type Config struct {
	// Regions are visited in order; repeats are ignored.
	Regions []string

	// RequiredTag names the tag that must be "True" for an image to be
	// considered.
	RequiredTag string

	// Retain is the number of newest images kept in every family.
	Retain int

	// Parallelism is the number of concurrent destroys within a region.
	// Zero means one.
	Parallelism int

	// RegionParallelism is the number of regions processed concurrently.
	// Zero means one.
	RegionParallelism int

	// Reconcile enables the orphaned snapshot sweep after each region's
	// destroy phase.
	Reconcile bool

	// Limiter is shared by every mutating provider call of the run. Nil
	// means unlimited.
	Limiter *rate.Limiter

	NewClient ClientFactory
	Recorder  Recorder
	Clock     clock.Clock
	Logger    logger.Logger
}

// Validate returns an error if config cannot drive a Reaper.
func (config Config) Validate() error {
	if len(config.Regions) == 0 {
		return errors.NotValidf("empty Regions")
	}
	for _, region := range config.Regions {
		if region == "" {
			return errors.NotValidf("empty region in Regions")
		}
	}
	if config.RequiredTag == "" || config.RequiredTag == "tag:" {
		return errors.NotValidf("empty RequiredTag")
	}
	if config.Retain < 0 {
		return errors.NotValidf("negative Retain %d", config.Retain)
	}
	if config.Parallelism < 0 {
		return errors.NotValidf("negative Parallelism %d", config.Parallelism)
	}
	if config.RegionParallelism < 0 {
		return errors.NotValidf("negative RegionParallelism %d", config.RegionParallelism)
	}
	if config.NewClient == nil {
		return errors.NotValidf("nil NewClient")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

type noopRecorder struct{}

func (noopRecorder) ImagesFetched(string, int)                   {}
func (noopRecorder) ImagesSelected(string, int)                  {}
func (noopRecorder) ImageDestroyed(string, image.Destruction)    {}
func (noopRecorder) DestroyFailed(string)                        {}
func (noopRecorder) SnapshotsReconciled(string, int)             {}
func (noopRecorder) RegionFinished(string, time.Duration, error) {}
