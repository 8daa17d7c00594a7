// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core exists to hold concepts and pure logic pertaining to the image
reaper's domain: what an image is, how images group into families and which
of them a retention count gives up.

It is important to be aware of what should *not* go here. In particular:

  - if it makes any call to a cloud API, it should not be in here.
  - if it is concerned with flags, output formats or serialization beyond
    struct tags, it should not be in here.
  - if it has to do with the *specifics* of one provider (EC2 error codes,
    SDK types, tag filter syntax), it belongs under internal/provider.

...and more generally, when adding to core:

  - it's fine to import from any subpackage of "github.com/juju/imagereaper/core"
  - but never import from any other package of "github.com/juju/imagereaper"
  - don't introduce mutable global state
*/
package core
