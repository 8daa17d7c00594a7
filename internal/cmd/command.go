// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// ErrSilent can be returned from Run to signal that Main should exit with
// code 1 without printing the error.
var ErrSilent = stderrors.New("cmd: error out silently")

// Info holds everything necessary to describe a Command's intent and usage.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected positional arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string

	// Examples is a set of usage examples for the Command.
	Examples string
}

// Help renders i's content, along with documentation for any flags
// defined in f.
func (i *Info) Help(f *gnuflag.FlagSet) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "Usage: %s", i.Name)
	hasOptions := false
	f.VisitAll(func(*gnuflag.Flag) { hasOptions = true })
	if hasOptions {
		fmt.Fprintf(buf, " [options]")
	}
	if i.Args != "" {
		fmt.Fprintf(buf, " %s", i.Args)
	}
	fmt.Fprintf(buf, "\n")
	if i.Purpose != "" {
		fmt.Fprintf(buf, "\nSummary:\n%s\n", strings.TrimSpace(i.Purpose))
	}
	if hasOptions {
		fmt.Fprintf(buf, "\nOptions:\n")
		f.SetOutput(buf)
		f.PrintDefaults()
	}
	if i.Doc != "" {
		fmt.Fprintf(buf, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
	if i.Examples != "" {
		fmt.Fprintf(buf, "\nExamples:\n%s\n", strings.TrimSpace(i.Examples))
	}
	return buf.Bytes()
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// Info returns information about the Command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the Command before running, from the positional
	// arguments left after flag parsing.
	Init(args []string) error

	// Run will execute the Command as directed by the options and
	// positional arguments passed to Init.
	Run(ctx *Context) error
}

// CommandBase provides the default implementation for SetFlags and Init.
type CommandBase struct{}

// SetFlags does nothing in the simplest case.
func (c *CommandBase) SetFlags(f *gnuflag.FlagSet) {}

// Init in the simplest case makes sure there are no args.
func (c *CommandBase) Init(args []string) error {
	return CheckEmpty(args)
}

// CheckEmpty is a utility function that returns an error if args is not
// empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// Context represents the run context of a Command. Command implementations
// should use it for all output and for cancellation.
type Context struct {
	context.Context

	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context writing to the process's standard
// streams.
func DefaultContext(ctx context.Context) *Context {
	return &Context{
		Context: ctx,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Main runs the Command specified by args and returns its exit code: 0 on
// success, 2 if the arguments could not be parsed and 1 if the Command
// failed.
func Main(c Command, ctx *Context, args []string) int {
	info := c.Info()
	f := gnuflag.NewFlagSet(info.Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	c.SetFlags(f)
	if err := f.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			_, _ = ctx.Stdout.Write(info.Help(f))
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Init(f.Args()); err != nil {
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		if err != ErrSilent {
			fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		}
		return 1
	}
	return 0
}
