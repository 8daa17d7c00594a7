// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"golang.org/x/time/rate"

	"github.com/juju/imagereaper/internal/cmd"
	internallogger "github.com/juju/imagereaper/internal/logger"
	"github.com/juju/imagereaper/internal/metrics"
	"github.com/juju/imagereaper/internal/provider/ec2"
	"github.com/juju/imagereaper/internal/reaper"
)

// LoggingConfigEnvKey holds the default logging config, overridden by
// --logging-config.
const LoggingConfigEnvKey = "IMAGEREAPER_LOGGING_CONFIG"

const (
	defaultRetain  = 2
	defaultRegions = "us-east-1"
)

const reapDoc = `
Every image owned by the account that carries <required-tag> with the value
"True" is grouped into a family by its Name tag. Within each family the
newest --retain images are kept; every older image is deregistered and the
EBS snapshots backing it are deleted.

Images without exactly one Name tag are never touched. Regions are processed
independently: a failure in one region is reported and the remaining regions
still run.

With --reconcile, snapshots left behind by an earlier partial destruction are
found by the imagereaper:image-id tag written on them and deleted once their
image is gone. The tag is written before deregistration and is kept if
deregistration fails: if such an image is later deregistered by other means,
a --reconcile run deletes its snapshots too. Remove the tag from snapshots
that must be kept.

Deregistration and snapshot deletion cannot be undone.
`

const reapExamples = `
    imagereaper CleanupEligible
    imagereaper tag:CleanupEligible --retain 3 --regions us-east-1,eu-west-1
    imagereaper CleanupEligible --parallel 4 --rate 5 --format yaml
`

type clientFunc func(ctx context.Context, cfg ec2.ClientConfig) (ec2.Client, error)

type reapCommand struct {
	cmd.CommandBase
	log cmd.Log
	out cmd.Output

	newClient clientFunc
	clock     clock.Clock

	requiredTag    string
	retain         int
	regionsFlag    string
	regions        []string
	parallel       int
	regionParallel int
	rate           float64
	reconcile      bool
	pushgateway    string
	clientConfig   ec2.ClientConfig
}

func newReapCommand() *reapCommand {
	return &reapCommand{
		log:       cmd.Log{DefaultConfig: os.Getenv(LoggingConfigEnvKey)},
		newClient: ec2.NewClient,
		clock:     clock.WallClock,
	}
}

// Info implements cmd.Command.
func (c *reapCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "imagereaper",
		Args:     "<required-tag>",
		Purpose:  "Destroy all but the newest images of every image family.",
		Doc:      reapDoc,
		Examples: reapExamples,
	}
}

// SetFlags implements cmd.Command.
func (c *reapCommand) SetFlags(f *gnuflag.FlagSet) {
	c.log.AddFlags(f)
	c.out.AddFlags(f, "", reportFormatters)
	f.IntVar(&c.retain, "retain", defaultRetain, "Number of newest images to keep in each family")
	f.StringVar(&c.regionsFlag, "regions", defaultRegions, "Comma separated list of regions to clean up")
	f.IntVar(&c.parallel, "parallel", 1, "Number of images destroyed concurrently in a region")
	f.IntVar(&c.regionParallel, "region-parallel", 1, "Number of regions processed concurrently")
	f.Float64Var(&c.rate, "rate", 0, "Maximum mutating API calls per second, 0 for no limit")
	f.BoolVar(&c.reconcile, "reconcile", false, "Delete orphaned snapshots of images destroyed earlier")
	f.StringVar(&c.pushgateway, "pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	f.StringVar(&c.clientConfig.Profile, "profile", "", "AWS shared config profile")
	f.StringVar(&c.clientConfig.Endpoint, "endpoint", "", "EC2 endpoint URL override")
	f.StringVar(&c.clientConfig.AccessKey, "access-key", "", "AWS access key, requires --secret-key")
	f.StringVar(&c.clientConfig.SecretKey, "secret-key", "", "AWS secret key, requires --access-key")
}

// Init implements cmd.Command.
func (c *reapCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.NewNotValid(nil, "no required tag specified")
	}
	c.requiredTag, args = args[0], args[1:]
	if strings.TrimPrefix(c.requiredTag, "tag:") == "" {
		return errors.NotValidf("required tag %q", c.requiredTag)
	}
	if err := cmd.CheckEmpty(args); err != nil {
		return errors.NewNotValid(err, "")
	}

	if c.retain < 0 {
		return errors.NewNotValid(nil, fmt.Sprintf("--retain must be zero or more, got %d", c.retain))
	}
	c.regions = nil
	for _, region := range strings.Split(c.regionsFlag, ",") {
		region = strings.TrimSpace(region)
		if region == "" {
			return errors.NotValidf("--regions %q with empty region", c.regionsFlag)
		}
		c.regions = append(c.regions, region)
	}
	if c.parallel < 1 {
		return errors.NewNotValid(nil, fmt.Sprintf("--parallel must be at least 1, got %d", c.parallel))
	}
	if c.regionParallel < 1 {
		return errors.NewNotValid(nil, fmt.Sprintf("--region-parallel must be at least 1, got %d", c.regionParallel))
	}
	if c.rate < 0 {
		return errors.NewNotValid(nil, fmt.Sprintf("--rate must be zero or more, got %v", c.rate))
	}
	if c.pushgateway != "" {
		u, err := url.Parse(c.pushgateway)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NotValidf("--pushgateway %q", c.pushgateway)
		}
	}

	probe := c.clientConfig
	probe.Region = c.regions[0]
	return errors.Trace(probe.Validate())
}

// Run implements cmd.Command.
func (c *reapCommand) Run(ctx *cmd.Context) error {
	if err := c.log.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	logger := internallogger.GetLogger("imagereaper")
	logger.Debugf(ctx, "running imagereaper [%s %s]", runtime.Compiler, runtime.Version())

	var limiter *rate.Limiter
	if c.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.rate), 1)
	}
	collector := metrics.NewMetricsCollector()

	r, err := reaper.New(reaper.Config{
		Regions:           c.regions,
		RequiredTag:       c.requiredTag,
		Retain:            c.retain,
		Parallelism:       c.parallel,
		RegionParallelism: c.regionParallel,
		Reconcile:         c.reconcile,
		Limiter:           limiter,
		NewClient: func(ctx context.Context, region string) (ec2.Client, error) {
			cfg := c.clientConfig
			cfg.Region = region
			return c.newClient(ctx, cfg)
		},
		Recorder: collector,
		Clock:    c.clock,
		Logger:   logger.Child("reaper"),
	})
	if err != nil {
		return errors.Trace(err)
	}

	report := r.Run(ctx)

	if c.pushgateway != "" {
		if err := collector.Push(ctx, c.pushgateway); err != nil {
			logger.Warningf(ctx, "%v", err)
		}
	}
	if err := c.out.Write(ctx, report); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(report.Err())
}
