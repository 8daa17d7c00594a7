// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package image

import (
	"fmt"
	"strings"
)

// Destruction records what happened when an image was torn down.
type Destruction struct {
	ImageID string `yaml:"image-id" json:"image-id"`
	Family  string `yaml:"family,omitempty" json:"family,omitempty"`

	// Deregistered is true once the provider accepted the deregistration.
	// Nothing after that point can be undone.
	Deregistered bool `yaml:"deregistered" json:"deregistered"`

	DeletedSnapshots  []string `yaml:"deleted-snapshots,omitempty" json:"deleted-snapshots,omitempty"`
	OrphanedSnapshots []string `yaml:"orphaned-snapshots,omitempty" json:"orphaned-snapshots,omitempty"`
	SkippedDevices    []string `yaml:"skipped-devices,omitempty" json:"skipped-devices,omitempty"`
}

// Partial reports whether the image was deregistered but some of its
// snapshots could not be deleted.
func (d Destruction) Partial() bool {
	return d.Deregistered && len(d.OrphanedSnapshots) > 0
}

// Err returns a *PartialDestructionError for a partial destruction, and nil
// otherwise.
func (d Destruction) Err() error {
	if !d.Partial() {
		return nil
	}
	return &PartialDestructionError{
		ImageID:   d.ImageID,
		Snapshots: d.OrphanedSnapshots,
	}
}

// PartialDestructionError describes an image that was deregistered while
// one or more of its snapshots survived. Those snapshots no longer have an
// owning registration.
type PartialDestructionError struct {
	ImageID   string
	Snapshots []string
}

// Error implements error.
func (e *PartialDestructionError) Error() string {
	return fmt.Sprintf("image %s deregistered but snapshots %s were not deleted",
		e.ImageID, strings.Join(e.Snapshots, ", "))
}
