// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reaper

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/imagereaper/core/image"
)

// RegionResult is the outcome of reaping one region.
type RegionResult struct {
	Region   string    `yaml:"region" json:"region"`
	Started  time.Time `yaml:"started" json:"started"`
	Finished time.Time `yaml:"finished" json:"finished"`

	// Fetched is the number of eligible images found. Families holds the
	// identity of every family found, in natural order.
	Fetched  int      `yaml:"fetched" json:"fetched"`
	Families []string `yaml:"families,omitempty" json:"families,omitempty"`

	// Disposals lists the images selected for destruction, in disposal
	// order.
	Disposals    []string            `yaml:"disposals,omitempty" json:"disposals,omitempty"`
	Destructions []image.Destruction `yaml:"destructions,omitempty" json:"destructions,omitempty"`
	Reconciled   []string            `yaml:"reconciled-snapshots,omitempty" json:"reconciled-snapshots,omitempty"`

	// Error is the reason the region failed, if it did.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`

	err error
}

// Err returns the error that failed the region, or nil.
func (r RegionResult) Err() error {
	return r.err
}

// OrphanedSnapshots returns the snapshots left behind by partial
// destructions in the region.
func (r RegionResult) OrphanedSnapshots() []string {
	var orphans []string
	for _, d := range r.Destructions {
		orphans = append(orphans, d.OrphanedSnapshots...)
	}
	return orphans
}

// Report is the outcome of a run, one result per region in the order the
// regions were configured.
type Report struct {
	Regions []RegionResult `yaml:"regions" json:"regions"`
}

// Err returns a *RegionsError naming every failed region, or nil if all
// regions succeeded.
func (r Report) Err() error {
	var failed []RegionResult
	for _, result := range r.Regions {
		if result.err != nil {
			failed = append(failed, result)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &RegionsError{Failed: failed, Total: len(r.Regions)}
}

// RegionsError is returned by Report.Err when one or more regions failed.
type RegionsError struct {
	Failed []RegionResult
	Total  int
}

// Error implements error.
func (e *RegionsError) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, result := range e.Failed {
		msgs[i] = fmt.Sprintf("%s: %v", result.Region, result.err)
	}
	return fmt.Sprintf("%d of %d regions failed: %s", len(e.Failed), e.Total, strings.Join(msgs, "; "))
}

// Unwrap returns the error of each failed region.
func (e *RegionsError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, result := range e.Failed {
		errs[i] = result.err
	}
	return errs
}
