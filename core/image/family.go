// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package image

// Family is the set of images sharing one identity tag value, treated as
// successive generations of the same logical image.
type Family struct {
	Key string

	// Images are ordered newest first.
	Images []Image
}

// Classify partitions images into families keyed by the identity tag.
// The relative order of images is preserved within each family, so a
// newest-first input yields newest-first families. Families are returned
// in the order their first member appears in images.
//
// Images without exactly one identity tag belong to no family and are
// never candidates for disposal.
func Classify(images []Image) []Family {
	var families []Family
	index := make(map[string]int)
	for _, img := range images {
		key, ok := img.Family()
		if !ok {
			continue
		}
		i, found := index[key]
		if !found {
			i = len(families)
			index[key] = i
			families = append(families, Family{Key: key})
		}
		families[i].Images = append(families[i].Images, img)
	}
	return families
}

// Unclassified returns the images Classify would drop.
func Unclassified(images []Image) []Image {
	var dropped []Image
	for _, img := range images {
		if _, ok := img.Family(); !ok {
			dropped = append(dropped, img)
		}
	}
	return dropped
}
