// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/juju/errors"
)

// Client defines the subset of the EC2 API needed to find, destroy and
// reconcile images and their snapshots. It is satisfied by *ec2.Client.
type Client interface {
	DescribeImages(context.Context, *ec2.DescribeImagesInput, ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DeregisterImage(context.Context, *ec2.DeregisterImageInput, ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error)
	DescribeSnapshots(context.Context, *ec2.DescribeSnapshotsInput, ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DeleteSnapshot(context.Context, *ec2.DeleteSnapshotInput, ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	CreateTags(context.Context, *ec2.CreateTagsInput, ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// ClientConfig holds the settings used to open an EC2 client for a single
// region. Anything left empty falls back to the AWS shared configuration
// and environment.
type ClientConfig struct {
	Region string

	// Profile selects a named profile from the shared config files.
	Profile string

	// Endpoint overrides the EC2 endpoint, for EC2 compatible clouds and
	// local emulators.
	Endpoint string

	// AccessKey and SecretKey, when set, are used as static credentials.
	AccessKey string
	SecretKey string
}

// Validate checks the configuration is usable.
func (c ClientConfig) Validate() error {
	if c.Region == "" {
		return errors.NotValidf("empty region")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.NotValidf("access key without secret key")
	}
	return nil
}

// NewClient returns an EC2 client bound to the configured region.
func NewClient(ctx context.Context, cfg ClientConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotatef(err, "loading AWS config for region %q", cfg.Region)
	}

	return ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
