package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	app "github.com/valter-silva-au/context-weave/internal"
	"github.com/valter-silva-au/context-weave/internal/cli"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, app.Options{
		Version: cli.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing cw: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	if err := cli.NewRootCmd(a.Env).ExecuteContext(ctx); err != nil {
		cli.PrintError(os.Stderr, err)
		return cli.ExitCode(err)
	}
	return 0
}
