// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
	"golang.org/x/time/rate"

	"github.com/juju/imagereaper/core/logger"
)

// Reconciler deletes snapshots that were marked by a Destroyer but outlived
// the image they belonged to.
type Reconciler struct {
	client  Client
	region  string
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewReconciler returns a Reconciler for region.
func NewReconciler(client Client, region string, limiter *rate.Limiter, logger logger.Logger) *Reconciler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Reconciler{
		client:  client,
		region:  region,
		limiter: limiter,
		logger:  logger,
	}
}

// Reconcile deletes every marked snapshot whose image is no longer
// registered, and returns the IDs it deleted. Snapshots whose image still
// exists are left untouched. A snapshot that fails to delete is logged and
// left for the next run.
func (r *Reconciler) Reconcile(ctx context.Context) ([]string, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []types.Filter{{
			Name:   aws.String("tag-key"),
			Values: []string{OwnerImageTagKey},
		}},
	}

	var marked []types.Snapshot
	paginator := ec2.NewDescribeSnapshotsPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newProviderRequestError("DescribeSnapshots", r.region, err)
		}
		marked = append(marked, page.Snapshots...)
	}
	r.logger.Infof(ctx, "found %d marked snapshots in %s", len(marked), r.region)

	registered := make(map[string]bool)
	var deleted []string
	for _, snap := range marked {
		snapshotID := aws.ToString(snap.SnapshotId)
		imageID := ownerImage(snap.Tags)
		if imageID == "" {
			continue
		}

		exists, ok := registered[imageID]
		if !ok {
			var err error
			if exists, err = r.imageExists(ctx, imageID); err != nil {
				return deleted, errors.Trace(err)
			}
			registered[imageID] = exists
		}
		if exists {
			r.logger.Debugf(ctx, "snapshot %s still belongs to registered image %s", snapshotID, imageID)
			continue
		}

		r.logger.Infof(ctx, "attempting to delete orphaned snapshot %s of image %s", snapshotID, imageID)
		if err := r.limiter.Wait(ctx); err != nil {
			return deleted, errors.Trace(err)
		}
		_, err := r.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
			SnapshotId: aws.String(snapshotID),
		})
		if err != nil && !hasErrorCode(err, codeSnapshotNotFound) {
			r.logger.Errorf(ctx, "failed to delete orphaned snapshot %s: %v", snapshotID, err)
			continue
		}
		r.logger.Infof(ctx, "deleted orphaned snapshot %s", snapshotID)
		deleted = append(deleted, snapshotID)
	}
	return deleted, nil
}

func (r *Reconciler) imageExists(ctx context.Context, id string) (bool, error) {
	out, err := r.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{id},
	})
	if hasErrorCode(err, codeImageNotFound, codeImageUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, newProviderRequestError("DescribeImages", r.region, err)
	}
	for _, img := range out.Images {
		if aws.ToString(img.ImageId) == id && img.State != types.ImageStateDeregistered {
			return true, nil
		}
	}
	return false, nil
}

func ownerImage(tags []types.Tag) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == OwnerImageTagKey {
			return aws.ToString(t.Value)
		}
	}
	return ""
}
