// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package image

// SelectDisposals returns the images of a newest-first family that fall
// outside the retention count: every image at index retain or later, in
// the same order. A retain of zero or less selects the whole family.
func SelectDisposals(images []Image, retain int) []Image {
	if retain < 0 {
		retain = 0
	}
	if retain >= len(images) {
		return nil
	}
	disposals := make([]Image, len(images)-retain)
	copy(disposals, images[retain:])
	return disposals
}

// DisposalSet applies SelectDisposals to every family and concatenates the
// results, in family order. Family membership is disjoint so no image can
// appear twice.
func DisposalSet(families []Family, retain int) []Image {
	var disposals []Image
	for _, f := range families {
		disposals = append(disposals, SelectDisposals(f.Images, retain)...)
	}
	return disposals
}
