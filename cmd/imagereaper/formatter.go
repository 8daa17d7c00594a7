// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/imagereaper/internal/cmd"
	"github.com/juju/imagereaper/internal/reaper"
)

// formatReportTabular writes a one line summary of every region in the
// report.
func formatReportTabular(writer io.Writer, value interface{}) error {
	report, ok := value.(reaper.Report)
	if !ok {
		return errors.Errorf("expected value of type %T, got %T", report, value)
	}

	tw := cmd.TabWriter(writer)
	print := func(values ...string) {
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}
	print("REGION", "FETCHED", "FAMILIES", "DESTROYED", "ORPHANED", "RECONCILED", "STATUS")
	for _, result := range report.Regions {
		destroyed := 0
		for _, d := range result.Destructions {
			if d.Deregistered {
				destroyed++
			}
		}
		status := "ok"
		if result.Error != "" {
			status = "failed: " + result.Error
		}
		print(
			result.Region,
			strconv.Itoa(result.Fetched),
			strconv.Itoa(len(result.Families)),
			strconv.Itoa(destroyed),
			strconv.Itoa(len(result.OrphanedSnapshots())),
			strconv.Itoa(len(result.Reconciled)),
			status,
		)
	}
	return errors.Trace(tw.Flush())
}

var reportFormatters = map[string]cmd.Formatter{
	"yaml":    cmd.FormatYaml,
	"json":    cmd.FormatJson,
	"tabular": formatReportTabular,
}
