// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/imagereaper/internal/cmd"
)

type logSuite struct{}

var _ = gc.Suite(&logSuite{})

func (s *logSuite) TearDownTest(c *gc.C) {
	loggo.ResetLogging()
}

func (s *logSuite) parse(c *gc.C, log *cmd.Log, args ...string) {
	f := gnuflag.NewFlagSet("test", gnuflag.ContinueOnError)
	log.AddFlags(f)
	c.Assert(f.Parse(true, args), jc.ErrorIsNil)
}

func (s *logSuite) TestSpec(c *gc.C) {
	for i, test := range []struct {
		defaultConfig string
		args          []string
		expected      string
	}{{
		expected: "<root>=INFO",
	}, {
		args:     []string{"--debug"},
		expected: "<root>=DEBUG",
	}, {
		defaultConfig: "imagereaper.ec2=TRACE",
		expected:      "<root>=INFO;imagereaper.ec2=TRACE",
	}, {
		defaultConfig: "imagereaper.ec2=TRACE",
		args:          []string{"--logging-config", "imagereaper=WARNING"},
		expected:      "<root>=INFO;imagereaper=WARNING",
	}} {
		c.Logf("test %d", i)
		log := &cmd.Log{DefaultConfig: test.defaultConfig}
		s.parse(c, log, test.args...)
		c.Check(log.Spec(), gc.Equals, test.expected)
	}
}

func (s *logSuite) TestStart(c *gc.C) {
	log := &cmd.Log{}
	s.parse(c, log, "--logging-config=imagereaper.noisy=ERROR")
	ctx, stdout, _ := bufferContext()
	c.Assert(log.Start(ctx), jc.ErrorIsNil)

	loggo.GetLogger("imagereaper.test").Infof("hello")
	loggo.GetLogger("imagereaper.test").Debugf("hidden")
	loggo.GetLogger("imagereaper.noisy").Warningf("hidden too")
	c.Check(stdout.String(), gc.Matches, `\d{4}-\d\d-\d\d \d\d:\d\d:\d\d INFO imagereaper.test hello\n`)
}

func (s *logSuite) TestStartBadConfig(c *gc.C) {
	log := &cmd.Log{Config: "<root>=LOUD"}
	ctx, _, _ := bufferContext()
	c.Assert(log.Start(ctx), gc.ErrorMatches, `parsing logging config .*`)
}
