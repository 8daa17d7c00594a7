// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/juju/ansiterm"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"
)

// Formatter writes the formatted representation of value to writer.
type Formatter func(writer io.Writer, value interface{}) error

// FormatYaml writes out value as yaml to the writer, unless value is nil.
func FormatYaml(writer io.Writer, value interface{}) error {
	if value == nil {
		return nil
	}
	result, err := yaml.Marshal(value)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = writer.Write(result)
	return errors.Trace(err)
}

// FormatJson writes out value as indented json, followed by a newline,
// unless value is nil.
func FormatJson(writer io.Writer, value interface{}) error {
	if value == nil {
		return nil
	}
	result, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	_, err = writer.Write(append(result, '\n'))
	return errors.Trace(err)
}

// DefaultFormatters holds the formatters every command supports.
var DefaultFormatters = map[string]Formatter{
	"yaml": FormatYaml,
	"json": FormatJson,
}

// TabWriter returns a new tab writer with common layout definition.
func TabWriter(writer io.Writer) *ansiterm.TabWriter {
	const (
		minwidth = 0
		tabwidth = 1
		padding  = 2
		padchar  = ' '
		flags    = 0
	)
	return ansiterm.NewTabWriter(writer, minwidth, tabwidth, padding, padchar, flags)
}

// formatterValue implements gnuflag.Value for the --format flag.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

// newFormatterValue returns a new formatterValue. A non-empty initial
// Formatter name must be present in formatters.
func newFormatterValue(initial string, formatters map[string]Formatter) *formatterValue {
	v := &formatterValue{formatters: formatters}
	if initial == "" {
		return v
	}
	if err := v.Set(initial); err != nil {
		panic(err)
	}
	return v
}

// Set stores the chosen formatter name in v.name.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.Errorf("unknown format %q", value)
	}
	v.name = value
	return nil
}

// String returns the chosen formatter name.
func (v *formatterValue) String() string {
	return v.name
}

// doc returns documentation for the --format flag.
func (v *formatterValue) doc() string {
	choices := make([]string, 0, len(v.formatters))
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "Specify output format (" + strings.Join(choices, "|") + ")"
}

// Output is responsible for interpreting the --format command line flag and
// writing a value to stdout as directed.
type Output struct {
	formatter *formatterValue
}

// AddFlags injects the --format flag into f. When defaultFormatter is empty,
// nothing is written unless --format is given.
func (c *Output) AddFlags(f *gnuflag.FlagSet, defaultFormatter string, formatters map[string]Formatter) {
	c.formatter = newFormatterValue(defaultFormatter, formatters)
	f.Var(c.formatter, "format", c.formatter.doc())
}

// Name returns the name of the chosen formatter, or "" if there is none.
func (c *Output) Name() string {
	if c.formatter == nil {
		return ""
	}
	return c.formatter.name
}

// Write formats and writes value to ctx.Stdout as directed by the --format
// flag.
func (c *Output) Write(ctx *Context, value interface{}) error {
	name := c.Name()
	if name == "" {
		return nil
	}
	err := c.formatter.formatters[name](ctx.Stdout, value)
	return errors.Annotatef(err, "formatting output as %s", name)
}
