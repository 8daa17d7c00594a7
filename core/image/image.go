// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package image holds the provider independent model of registered machine
// images, and the pure logic that groups them into families and decides
// which generations to dispose of.
package image

import "time"

// IdentityTagKey is the tag whose value names the family an image belongs
// to.
const IdentityTagKey = "Name"

// Tags maps a tag key to every value the provider reported for it.
// Providers normally return one value per key; more than one makes the key
// ambiguous.
type Tags map[string][]string

// NewTags builds Tags from key/value pairs, keeping duplicates.
func NewTags(pairs ...Tag) Tags {
	tags := make(Tags, len(pairs))
	for _, p := range pairs {
		tags[p.Key] = append(tags[p.Key], p.Value)
	}
	return tags
}

// Tag is a single key/value pair.
type Tag struct {
	Key   string
	Value string
}

// Lookup returns the value of key. The key is only considered present
// when it carries exactly one value.
func (t Tags) Lookup(key string) (string, bool) {
	values := t[key]
	if len(values) != 1 {
		return "", false
	}
	return values[0], true
}

// BlockDevice is a device slot of an image, optionally backed by a storage
// snapshot.
type BlockDevice struct {
	DeviceName string

	// SnapshotID is empty for ephemeral (instance store) devices and any
	// other mapping without a backing snapshot.
	SnapshotID string
}

// HasSnapshot reports whether the device is backed by a snapshot.
func (b BlockDevice) HasSnapshot() bool {
	return b.SnapshotID != ""
}

// Image is a registered machine image.
type Image struct {
	ID           string
	Created      time.Time
	Tags         Tags
	BlockDevices []BlockDevice
}

// Family returns the identity tag value of the image. ok is false when the
// image has no identity tag, or has it more than once.
func (i Image) Family() (name string, ok bool) {
	return i.Tags.Lookup(IdentityTagKey)
}

// Snapshots returns the IDs of the snapshots backing the image, in block
// device order.
func (i Image) Snapshots() []string {
	var ids []string
	for _, dev := range i.BlockDevices {
		if dev.HasSnapshot() {
			ids = append(ids, dev.SnapshotID)
		}
	}
	return ids
}

// IDs returns the IDs of images, preserving order.
func IDs(images []Image) []string {
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids
}
