// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	internallogger "github.com/juju/imagereaper/internal/logger"
)

// DefaultLogConfig is applied before any other logging config, unless
// --debug is given.
const DefaultLogConfig = "<root>=INFO"

// Log supplies the logging flags for a Command and configures the default
// logger from them.
type Log struct {
	// DefaultConfig is used when --logging-config is not given, typically
	// taken from the environment.
	DefaultConfig string

	Debug  bool
	Config string
}

// AddFlags adds appropriate flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&l.Debug, "debug", false, "Equivalent to --logging-config=<root>=DEBUG")
	f.StringVar(&l.Config, "logging-config", l.DefaultConfig, "Specify log levels for modules")
}

// Spec returns the logging config the flags select.
func (l *Log) Spec() string {
	specs := []string{DefaultLogConfig}
	if l.Debug {
		specs[0] = "<root>=DEBUG"
	}
	if l.Config != "" {
		specs = append(specs, l.Config)
	}
	return strings.Join(specs, ";")
}

// Start sends log output to ctx.Stdout at the configured levels.
func (l *Log) Start(ctx *Context) error {
	return errors.Trace(internallogger.ConfigureDefault(ctx.Stdout, l.Spec()))
}
