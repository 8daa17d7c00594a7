// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/imagereaper/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Main(newReapCommand(), cmd.DefaultContext(ctx), os.Args[1:])
	stop()
	os.Exit(code)
}
