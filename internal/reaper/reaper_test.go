// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reaper_test

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/clock/testclock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/goleak"
	gc "gopkg.in/check.v1"

	"github.com/juju/imagereaper/core/image"
	"github.com/juju/imagereaper/internal/provider/ec2"
	ec2testing "github.com/juju/imagereaper/internal/provider/ec2/testing"
	"github.com/juju/imagereaper/internal/reaper"
)

type reaperSuite struct {
	servers  map[string]*ec2testing.EC2Server
	recorder *recorder
	writer   *loggo.TestWriter
	clock    *testclock.Clock
	config   reaper.Config

	goroutines goleak.Option
}

var _ = gc.Suite(&reaperSuite{})

var (
	epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now   = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
)

func (s *reaperSuite) SetUpTest(c *gc.C) {
	s.goroutines = goleak.IgnoreCurrent()
	s.servers = map[string]*ec2testing.EC2Server{
		"us-east-1": ec2testing.NewEC2Server(),
	}
	s.recorder = &recorder{}
	s.clock = testclock.NewClock(now)

	log, writer := newTestLogger(c)
	s.writer = writer
	s.config = reaper.Config{
		Regions:     []string{"us-east-1"},
		RequiredTag: "Cleanup",
		Retain:      2,
		NewClient:   s.newClient,
		Recorder:    s.recorder,
		Clock:       s.clock,
		Logger:      log,
	}
}

func (s *reaperSuite) TearDownTest(c *gc.C) {
	// Every destroy goroutine must have finished by the time Run returns.
	goleak.VerifyNone(c, s.goroutines)
}

func (s *reaperSuite) newClient(_ context.Context, region string) (ec2.Client, error) {
	server, ok := s.servers[region]
	if !ok {
		return nil, errors.Errorf("no endpoint for %s", region)
	}
	return server, nil
}

// addFamily registers images of family in region. ids are given newest
// first and each image is backed by one snapshot named after it.
func (s *reaperSuite) addFamily(region, family string, ids ...string) {
	for i, id := range ids {
		created := epoch.AddDate(0, 0, len(ids)-i)
		s.servers[region].AddImage(ec2testing.NewImage(id, "Cleanup", family, created, "snap-"+id))
	}
}

func (s *reaperSuite) run(c *gc.C) reaper.Report {
	r, err := reaper.New(s.config)
	c.Assert(err, jc.ErrorIsNil)
	return r.Run(context.Background())
}

func (s *reaperSuite) TestRunRetainsNewest(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b", "ami-c", "ami-d")
	s.addFamily("us-east-1", "db", "ami-e")

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)

	server := s.servers["us-east-1"]
	c.Check(server.ImageIDs(), jc.SameContents, []string{"ami-a", "ami-b", "ami-e"})
	c.Check(server.SnapshotIDs(), jc.DeepEquals, set.NewStrings("snap-ami-a", "snap-ami-b", "snap-ami-e"))

	c.Assert(report.Regions, gc.HasLen, 1)
	result := report.Regions[0]
	c.Check(result.Region, gc.Equals, "us-east-1")
	c.Check(result.Started, gc.Equals, now)
	c.Check(result.Finished, gc.Equals, now)
	c.Check(result.Fetched, gc.Equals, 5)
	c.Check(result.Families, jc.DeepEquals, []string{"db", "web"})
	c.Check(result.Disposals, jc.DeepEquals, []string{"ami-c", "ami-d"})
	c.Check(result.Error, gc.Equals, "")
	c.Check(result.Destructions, jc.DeepEquals, []image.Destruction{{
		ImageID:          "ami-c",
		Family:           "web",
		Deregistered:     true,
		DeletedSnapshots: []string{"snap-ami-c"},
	}, {
		ImageID:          "ami-d",
		Family:           "web",
		Deregistered:     true,
		DeletedSnapshots: []string{"snap-ami-d"},
	}})

	c.Check(messages(s.writer, "imagereaper.reaper", loggo.INFO), jc.DeepEquals, []string{
		"reaping images in us-east-1",
		"images marked for destruction: ami-c, ami-d",
	})
	c.Check(messages(s.writer, "imagereaper.reaper.ec2", loggo.INFO), jc.DeepEquals, []string{
		"found 5 images with tag:Cleanup=True in us-east-1",
		`attempting to destroy image ami-c of family "web"`,
		"deregistered image ami-c",
		"attempting to delete snapshot snap-ami-c of image ami-c",
		"deleted snapshot snap-ami-c",
		`attempting to destroy image ami-d of family "web"`,
		"deregistered image ami-d",
		"attempting to delete snapshot snap-ami-d of image ami-d",
		"deleted snapshot snap-ami-d",
	})

	s.recorder.CheckCalls(c, []jujutesting.StubCall{
		{FuncName: "ImagesFetched", Args: []interface{}{"us-east-1", 5}},
		{FuncName: "ImagesSelected", Args: []interface{}{"us-east-1", 2}},
		{FuncName: "ImageDestroyed", Args: []interface{}{"us-east-1", "ami-c"}},
		{FuncName: "ImageDestroyed", Args: []interface{}{"us-east-1", "ami-d"}},
		{FuncName: "RegionFinished", Args: []interface{}{"us-east-1", true}},
	})
}

func (s *reaperSuite) TestRunReportsFamiliesInNaturalOrder(c *gc.C) {
	s.addFamily("us-east-1", "node-10", "ami-a")
	s.addFamily("us-east-1", "node-9", "ami-b")
	s.addFamily("us-east-1", "node-100", "ami-c")

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	c.Assert(report.Regions, gc.HasLen, 1)
	c.Check(report.Regions[0].Families, jc.DeepEquals, []string{"node-9", "node-10", "node-100"})
	c.Check(report.Regions[0].Disposals, gc.HasLen, 0)
}

func (s *reaperSuite) TestRunDeregistersBeforeDeletingSnapshots(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b")
	s.config.Retain = 1

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)

	server := s.servers["us-east-1"]
	server.CheckCallNames(c, "DescribeImages", "CreateTags", "DeregisterImage", "DeleteSnapshot")
	server.CheckCall(c, 2, "DeregisterImage", "ami-b")
	server.CheckCall(c, 3, "DeleteSnapshot", "snap-ami-b")
}

func (s *reaperSuite) TestRunNothingToDo(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b")

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	c.Check(report.Regions[0].Disposals, gc.HasLen, 0)
	c.Check(s.servers["us-east-1"].ImageIDs(), jc.DeepEquals, []string{"ami-a", "ami-b"})
	c.Check(messages(s.writer, "imagereaper.reaper", loggo.INFO), jc.DeepEquals, []string{
		"reaping images in us-east-1",
		"no images to destroy in us-east-1",
	})
}

func (s *reaperSuite) TestRunRetainZeroDestroysEveryFamilyMember(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b")
	s.config.Retain = 0

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	c.Check(report.Regions[0].Disposals, jc.DeepEquals, []string{"ami-a", "ami-b"})
	c.Check(s.servers["us-east-1"].ImageIDs(), gc.HasLen, 0)
}

func (s *reaperSuite) TestRunIgnoresUnclassifiedImages(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a")
	s.servers["us-east-1"].AddImage(ec2testing.NewImage("ami-anon", "Cleanup", "", epoch))
	s.config.Retain = 0

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	c.Check(report.Regions[0].Disposals, jc.DeepEquals, []string{"ami-a"})
	c.Check(s.servers["us-east-1"].ImageIDs(), jc.DeepEquals, []string{"ami-anon"})
	c.Check(messages(s.writer, "imagereaper.reaper", loggo.DEBUG), jc.DeepEquals, []string{
		"reaping images in us-east-1",
		"image ami-anon has no single Name tag, ignoring",
		"images marked for destruction: ami-a",
	})
}

func (s *reaperSuite) TestRunRegionsAreIndependent(c *gc.C) {
	s.servers["ap-south-1"] = ec2testing.NewEC2Server()
	s.servers["ap-south-1"].SetErrors(ec2testing.APIError("AuthFailure", "bad credentials"))
	s.addFamily("ap-south-1", "web", "ami-1", "ami-2", "ami-3")
	s.addFamily("us-east-1", "web", "ami-a", "ami-b", "ami-c")

	s.config.Regions = []string{"ap-south-1", "eu-west-1", "us-east-1", "ap-south-1"}
	report := s.run(c)

	c.Assert(report.Regions, gc.HasLen, 3)
	c.Check(report.Regions[0].Region, gc.Equals, "ap-south-1")
	c.Check(report.Regions[0].Error, gc.Equals,
		"ec2 DescribeImages in ap-south-1: api error AuthFailure: bad credentials")
	c.Check(ec2.IsProviderRequestError(report.Regions[0].Err()), jc.IsTrue)
	c.Check(report.Regions[1].Region, gc.Equals, "eu-west-1")
	c.Check(report.Regions[1].Error, gc.Equals, "connecting to eu-west-1: no endpoint for eu-west-1")
	c.Check(report.Regions[2].Region, gc.Equals, "us-east-1")
	c.Check(report.Regions[2].Err(), jc.ErrorIsNil)

	// The failing regions destroyed nothing, the healthy one did its work.
	c.Check(s.servers["ap-south-1"].ImageIDs(), gc.HasLen, 3)
	c.Check(s.servers["us-east-1"].ImageIDs(), jc.DeepEquals, []string{"ami-a", "ami-b"})

	err := report.Err()
	c.Assert(err, gc.ErrorMatches, `2 of 3 regions failed: ap-south-1: .*bad credentials; eu-west-1: .*no endpoint for eu-west-1`)
	c.Check(ec2.IsProviderRequestError(err), jc.IsTrue)

	c.Check(messages(s.writer, "imagereaper.reaper", loggo.ERROR), gc.HasLen, 2)
}

func (s *reaperSuite) TestRunDeregisterFailureStopsRegion(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b", "ami-c")
	s.config.Retain = 1

	// DescribeImages, CreateTags, DeregisterImage.
	s.servers["us-east-1"].SetErrors(nil, nil, ec2testing.APIError("UnauthorizedOperation", "denied"))

	report := s.run(c)
	result := report.Regions[0]
	c.Check(result.Disposals, jc.DeepEquals, []string{"ami-b", "ami-c"})
	c.Check(result.Error, gc.Matches, "destroying image ami-b: ec2 DeregisterImage in us-east-1: .*denied")
	c.Check(result.Destructions, jc.DeepEquals, []image.Destruction{{
		ImageID: "ami-b",
		Family:  "web",
	}})

	server := s.servers["us-east-1"]
	c.Check(server.ImageIDs(), jc.DeepEquals, []string{"ami-a", "ami-b", "ami-c"})
	c.Check(server.SnapshotIDs().Size(), gc.Equals, 3)
	server.CheckCallNames(c, "DescribeImages", "CreateTags", "DeregisterImage")

	var reqErr *ec2.ProviderRequestError
	c.Assert(errors.As(report.Err(), &reqErr), jc.IsTrue)
	c.Check(reqErr.IsAuthorization(), jc.IsTrue)

	c.Check(messages(s.writer, "imagereaper.reaper", loggo.WARNING), jc.DeepEquals, []string{
		"1 images in us-east-1 were not destroyed",
		"reaping us-east-1 failed: destroying image ami-b: ec2 DeregisterImage in us-east-1: api error UnauthorizedOperation: denied",
	})
	s.recorder.CheckCallNames(c, "ImagesFetched", "ImagesSelected", "DestroyFailed", "RegionFinished")
}

func (s *reaperSuite) TestRunPartialDestructionDoesNotFailRegion(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b")
	s.config.Retain = 1

	// DescribeImages, CreateTags, DeregisterImage, DeleteSnapshot.
	s.servers["us-east-1"].SetErrors(nil, nil, nil, ec2testing.APIError("InternalError", "try later"))

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	result := report.Regions[0]
	c.Check(result.OrphanedSnapshots(), jc.DeepEquals, []string{"snap-ami-b"})
	c.Check(result.Destructions[0].Err(), gc.ErrorMatches,
		"image ami-b deregistered but snapshots snap-ami-b were not deleted")
	c.Check(s.servers["us-east-1"].SnapshotTags("snap-ami-b"), jc.DeepEquals, map[string]string{
		ec2.OwnerImageTagKey: "ami-b",
	})
}

func (s *reaperSuite) TestRunReconcileCollectsOrphans(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b")
	s.servers["us-east-1"].AddSnapshot("snap-old", types.Tag{
		Key:   aws.String(ec2.OwnerImageTagKey),
		Value: aws.String("ami-long-gone"),
	})
	s.config.Retain = 1
	s.config.Reconcile = true

	// The destroy of ami-b leaves its snapshot behind.
	s.servers["us-east-1"].SetErrors(nil, nil, nil, ec2testing.APIError("InternalError", "try later"))

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)
	result := report.Regions[0]
	c.Check(result.OrphanedSnapshots(), jc.DeepEquals, []string{"snap-ami-b"})
	c.Check(result.Reconciled, jc.DeepEquals, []string{"snap-ami-b", "snap-old"})
	c.Check(s.servers["us-east-1"].SnapshotIDs(), jc.DeepEquals, set.NewStrings("snap-ami-a"))
	c.Check(s.recorder.Calls()[3], jc.DeepEquals, jujutesting.StubCall{
		FuncName: "SnapshotsReconciled",
		Args:     []interface{}{"us-east-1", 2},
	})
}

func (s *reaperSuite) TestRunParallelDestroys(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b", "ami-c", "ami-d", "ami-e", "ami-f", "ami-g")
	s.servers["eu-west-1"] = ec2testing.NewEC2Server()
	s.addFamily("eu-west-1", "web", "ami-1", "ami-2", "ami-3", "ami-4")
	s.config.Regions = []string{"us-east-1", "eu-west-1"}
	s.config.Parallelism = 3
	s.config.RegionParallelism = 2

	report := s.run(c)
	c.Assert(report.Err(), jc.ErrorIsNil)

	c.Check(report.Regions[0].Region, gc.Equals, "us-east-1")
	c.Check(report.Regions[0].Destructions, gc.HasLen, 5)
	c.Check(s.servers["us-east-1"].ImageIDs(), jc.DeepEquals, []string{"ami-a", "ami-b"})
	c.Check(s.servers["us-east-1"].SnapshotIDs(), jc.DeepEquals, set.NewStrings("snap-ami-a", "snap-ami-b"))

	c.Check(report.Regions[1].Region, gc.Equals, "eu-west-1")
	c.Check(report.Regions[1].Destructions, gc.HasLen, 2)
	c.Check(s.servers["eu-west-1"].ImageIDs(), jc.DeepEquals, []string{"ami-1", "ami-2"})

	// Destructions are reported in disposal order regardless of which
	// worker finished first.
	var destroyed []string
	for _, d := range report.Regions[0].Destructions {
		destroyed = append(destroyed, d.ImageID)
	}
	c.Check(destroyed, jc.DeepEquals, []string{"ami-c", "ami-d", "ami-e", "ami-f", "ami-g"})
}

func (s *reaperSuite) TestRunCancelled(c *gc.C) {
	s.addFamily("us-east-1", "web", "ami-a", "ami-b", "ami-c")

	r, err := reaper.New(s.config)
	c.Assert(err, jc.ErrorIsNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := r.Run(ctx)
	c.Check(report.Regions[0].Error, gc.Equals, "reaping us-east-1 interrupted: context canceled")
	c.Check(report.Regions[0].Destructions, gc.HasLen, 0)
	c.Check(s.servers["us-east-1"].ImageIDs(), gc.HasLen, 3)
}
