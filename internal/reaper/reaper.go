// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reaper

import (
	"context"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/naturalsort"
	"golang.org/x/sync/errgroup"

	"github.com/juju/imagereaper/core/image"
	"github.com/juju/imagereaper/internal/provider/ec2"
)

// Reaper removes superseded images, region by region.
type Reaper struct {
	config Config
}

// New returns a Reaper backed by config, or an error if config is not
// valid.
func New(config Config) (*Reaper, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Parallelism == 0 {
		config.Parallelism = 1
	}
	if config.RegionParallelism == 0 {
		config.RegionParallelism = 1
	}
	if config.Recorder == nil {
		config.Recorder = noopRecorder{}
	}
	return &Reaper{config: config}, nil
}

// Run reaps every configured region and reports the outcome of each. A
// region that fails does not stop the others; use Report.Err to find out
// whether any region failed.
func (r *Reaper) Run(ctx context.Context) Report {
	regions := uniqueRegions(r.config.Regions)
	results := make([]RegionResult, len(regions))

	// Region tasks never return an error, so one region cannot cancel
	// another.
	var g errgroup.Group
	g.SetLimit(r.config.RegionParallelism)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			results[i] = r.runRegion(ctx, region)
			return nil
		})
	}
	_ = g.Wait()

	return Report{Regions: results}
}

func uniqueRegions(regions []string) []string {
	seen := set.NewStrings()
	var unique []string
	for _, region := range regions {
		if seen.Contains(region) {
			continue
		}
		seen.Add(region)
		unique = append(unique, region)
	}
	return unique
}

func (r *Reaper) runRegion(ctx context.Context, region string) (result RegionResult) {
	log := r.config.Logger
	result = RegionResult{
		Region:  region,
		Started: r.config.Clock.Now(),
	}
	defer func() {
		result.Finished = r.config.Clock.Now()
		if result.err != nil {
			result.Error = result.err.Error()
			log.Errorf(ctx, "reaping %s failed: %v", region, result.err)
		}
		r.config.Recorder.RegionFinished(region, result.Finished.Sub(result.Started), result.err)
	}()

	log.Infof(ctx, "reaping images in %s", region)
	client, err := r.config.NewClient(ctx, region)
	if err != nil {
		result.err = errors.Annotatef(err, "connecting to %s", region)
		return result
	}

	providerLogger := log.Child("ec2")
	images, err := ec2.NewCatalog(client, region, r.config.RequiredTag, providerLogger).Images(ctx)
	if err != nil {
		result.err = errors.Trace(err)
		return result
	}
	result.Fetched = len(images)
	r.config.Recorder.ImagesFetched(region, len(images))

	for _, img := range image.Unclassified(images) {
		log.Debugf(ctx, "image %s has no single %s tag, ignoring", img.ID, image.IdentityTagKey)
	}
	families := image.Classify(images)
	for _, f := range families {
		result.Families = append(result.Families, f.Key)
	}
	naturalsort.Sort(result.Families)

	disposals := image.DisposalSet(families, r.config.Retain)
	result.Disposals = image.IDs(disposals)
	r.config.Recorder.ImagesSelected(region, len(disposals))
	if len(disposals) == 0 {
		log.Infof(ctx, "no images to destroy in %s", region)
	} else {
		log.Infof(ctx, "images marked for destruction: %s", strings.Join(result.Disposals, ", "))
	}

	destroyer := ec2.NewDestroyer(client, region, r.config.Limiter, providerLogger)
	result.Destructions, result.err = r.destroyAll(ctx, destroyer, region, disposals)

	if r.config.Reconcile {
		reconciler := ec2.NewReconciler(client, region, r.config.Limiter, providerLogger)
		reconciled, err := reconciler.Reconcile(ctx)
		result.Reconciled = reconciled
		r.config.Recorder.SnapshotsReconciled(region, len(reconciled))
		if err != nil && result.err == nil {
			result.err = errors.Annotate(err, "reconciling orphaned snapshots")
		}
	}
	return result
}

// destroyAll destroys disposals with up to Parallelism workers. The first
// failed deregistration or a cancelled ctx stops further destroys from
// starting. A destroy already in flight that has deregistered its image
// still deletes the image's snapshots.
func (r *Reaper) destroyAll(
	ctx context.Context,
	destroyer *ec2.Destroyer,
	region string,
	disposals []image.Image,
) ([]image.Destruction, error) {
	results := make([]image.Destruction, len(disposals))
	attempted := make([]bool, len(disposals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Parallelism)
	for i, img := range disposals {
		if gctx.Err() != nil {
			break
		}
		i, img := i, img
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			d, err := destroyer.Destroy(ctx, img)
			results[i], attempted[i] = d, true
			if err != nil {
				r.config.Recorder.DestroyFailed(region)
				return errors.Annotatef(err, "destroying image %s", img.ID)
			}
			r.config.Recorder.ImageDestroyed(region, d)
			return nil
		})
	}
	err := g.Wait()

	var destructions []image.Destruction
	skipped := 0
	for i, d := range results {
		if !attempted[i] {
			skipped++
			continue
		}
		destructions = append(destructions, d)
	}
	if skipped > 0 {
		r.config.Logger.Warningf(ctx, "%d images in %s were not destroyed", skipped, region)
	}
	if err == nil && skipped > 0 {
		err = errors.Annotatef(ctx.Err(), "reaping %s interrupted", region)
	}
	return destructions, err
}
