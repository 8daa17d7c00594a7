// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"

	"github.com/juju/imagereaper/core/image"
	"github.com/juju/imagereaper/core/logger"
)

// EligibleTagValue is the value the required tag must carry for an image to
// be considered at all.
const EligibleTagValue = "True"

// TagFilterName returns the DescribeImages filter name for a tag. Both
// "Foo" and "tag:Foo" name the tag Foo.
func TagFilterName(tag string) string {
	if strings.HasPrefix(tag, "tag:") {
		return tag
	}
	return "tag:" + tag
}

// Catalog lists the eligible images of one region.
type Catalog struct {
	client Client
	region string
	filter string
	logger logger.Logger
}

// NewCatalog returns a Catalog listing images in region that carry
// requiredTag with the value EligibleTagValue.
func NewCatalog(client Client, region, requiredTag string, logger logger.Logger) *Catalog {
	return &Catalog{
		client: client,
		region: region,
		filter: TagFilterName(requiredTag),
		logger: logger,
	}
}

// Images returns the eligible images owned by the account, newest first.
// Images created at the same instant keep the order the provider returned
// them in.
func (c *Catalog) Images(ctx context.Context) ([]image.Image, error) {
	input := &ec2.DescribeImagesInput{
		Owners:            []string{"self"},
		IncludeDeprecated: aws.Bool(true),
		Filters: []types.Filter{{
			Name:   aws.String(c.filter),
			Values: []string{EligibleTagValue},
		}},
	}

	var images []image.Image
	paginator := ec2.NewDescribeImagesPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newProviderRequestError("DescribeImages", c.region, err)
		}
		for _, raw := range page.Images {
			img, err := toImage(raw)
			if err != nil {
				c.logger.Warningf(ctx, "ignoring image %s: %v", aws.ToString(raw.ImageId), err)
				continue
			}
			images = append(images, img)
		}
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Created.After(images[j].Created)
	})
	c.logger.Infof(ctx, "found %d images with %s=%s in %s", len(images), c.filter, EligibleTagValue, c.region)
	return images, nil
}

func toImage(raw types.Image) (image.Image, error) {
	id := aws.ToString(raw.ImageId)
	if id == "" {
		return image.Image{}, errors.NotValidf("image without ID")
	}
	created, err := time.Parse(time.RFC3339, aws.ToString(raw.CreationDate))
	if err != nil {
		return image.Image{}, errors.NotValidf("creation date %q", aws.ToString(raw.CreationDate))
	}

	tags := make(image.Tags, len(raw.Tags))
	for _, t := range raw.Tags {
		key := aws.ToString(t.Key)
		tags[key] = append(tags[key], aws.ToString(t.Value))
	}

	devices := make([]image.BlockDevice, 0, len(raw.BlockDeviceMappings))
	for _, m := range raw.BlockDeviceMappings {
		dev := image.BlockDevice{DeviceName: aws.ToString(m.DeviceName)}
		if m.Ebs != nil {
			dev.SnapshotID = aws.ToString(m.Ebs.SnapshotId)
		}
		devices = append(devices, dev)
	}

	return image.Image{
		ID:           id,
		Created:      created,
		Tags:         tags,
		BlockDevices: devices,
	}, nil
}
