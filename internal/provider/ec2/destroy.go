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

	"github.com/juju/imagereaper/core/image"
	"github.com/juju/imagereaper/core/logger"
)

// OwnerImageTagKey is written on every snapshot of an image before the
// image is deregistered. It lets the Reconciler find snapshots whose
// deletion failed after their image was gone.
const OwnerImageTagKey = "imagereaper:image-id"

// Destroyer deregisters images and deletes their snapshots.
type Destroyer struct {
	client  Client
	region  string
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewDestroyer returns a Destroyer for region. Every mutating call waits on
// limiter; a nil limiter does not limit.
func NewDestroyer(client Client, region string, limiter *rate.Limiter, logger logger.Logger) *Destroyer {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Destroyer{
		client:  client,
		region:  region,
		limiter: limiter,
		logger:  logger,
	}
}

// Destroy deregisters img, then deletes every snapshot backing it.
//
// If deregistration fails the snapshots are left alone and a
// *ProviderRequestError is returned. Once the image is deregistered, a
// failed snapshot deletion is recorded as orphaned in the returned
// Destruction and the remaining snapshots are still attempted; the error
// is nil in that case because the image itself is gone.
//
// Cancelling ctx after the image is deregistered does not stop its
// snapshots from being deleted.
func (d *Destroyer) Destroy(ctx context.Context, img image.Image) (image.Destruction, error) {
	family, _ := img.Family()
	result := image.Destruction{
		ImageID: img.ID,
		Family:  family,
	}
	d.logger.Infof(ctx, "attempting to destroy image %s of family %q", img.ID, family)

	d.markSnapshots(ctx, img)

	if err := d.limiter.Wait(ctx); err != nil {
		d.logger.Errorf(ctx, "not deregistering image %s: %v", img.ID, err)
		d.skipSnapshots(ctx, img)
		return result, errors.Annotatef(err, "waiting to deregister image %s", img.ID)
	}
	if _, err := d.client.DeregisterImage(ctx, &ec2.DeregisterImageInput{
		ImageId: aws.String(img.ID),
	}); err != nil {
		d.logger.Errorf(ctx, "failed to deregister image %s: %v", img.ID, err)
		d.skipSnapshots(ctx, img)
		return result, newProviderRequestError("DeregisterImage", d.region, err)
	}
	result.Deregistered = true
	d.logger.Infof(ctx, "deregistered image %s", img.ID)

	// The deregistration cannot be undone, so its snapshots are deleted
	// even if ctx is cancelled from here on.
	ctx = context.WithoutCancel(ctx)

	for _, dev := range img.BlockDevices {
		if !dev.HasSnapshot() {
			d.logger.Infof(ctx, "block device %s of image %s had no associated snapshot, skipping", dev.DeviceName, img.ID)
			result.SkippedDevices = append(result.SkippedDevices, dev.DeviceName)
			continue
		}
		d.logger.Infof(ctx, "attempting to delete snapshot %s of image %s", dev.SnapshotID, img.ID)
		if err := d.deleteSnapshot(ctx, dev.SnapshotID); err != nil {
			d.logger.Errorf(ctx, "failed to delete snapshot %s of image %s: %v", dev.SnapshotID, img.ID, err)
			result.OrphanedSnapshots = append(result.OrphanedSnapshots, dev.SnapshotID)
			continue
		}
		result.DeletedSnapshots = append(result.DeletedSnapshots, dev.SnapshotID)
	}

	if err := result.Err(); err != nil {
		d.logger.Warningf(ctx, "%v", err)
	}
	return result, nil
}

func (d *Destroyer) skipSnapshots(ctx context.Context, img image.Image) {
	for _, id := range img.Snapshots() {
		d.logger.Warningf(ctx, "skipping snapshot %s, image %s is still registered", id, img.ID)
	}
}

// markSnapshots tags the snapshots of img with the image ID. Failure only
// costs the ability to reconcile later, so it does not stop destruction.
func (d *Destroyer) markSnapshots(ctx context.Context, img image.Image) {
	snapshots := img.Snapshots()
	if len(snapshots) == 0 {
		return
	}
	if err := d.limiter.Wait(ctx); err != nil {
		d.logger.Warningf(ctx, "not marking snapshots of image %s: %v", img.ID, err)
		return
	}
	_, err := d.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: snapshots,
		Tags: []types.Tag{{
			Key:   aws.String(OwnerImageTagKey),
			Value: aws.String(img.ID),
		}},
	})
	if err != nil {
		d.logger.Warningf(ctx, "failed to mark snapshots of image %s: %v", img.ID, err)
		return
	}
	d.logger.Debugf(ctx, "marked snapshots %v with %s=%s", snapshots, OwnerImageTagKey, img.ID)
}

// deleteSnapshot deletes a snapshot. A snapshot that no longer exists
// counts as deleted.
func (d *Destroyer) deleteSnapshot(ctx context.Context, id string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Trace(err)
	}
	_, err := d.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(id),
	})
	if hasErrorCode(err, codeSnapshotNotFound) {
		d.logger.Infof(ctx, "snapshot %s already deleted", id)
		return nil
	}
	if err != nil {
		return newProviderRequestError("DeleteSnapshot", d.region, err)
	}
	d.logger.Infof(ctx, "deleted snapshot %s", id)
	return nil
}
