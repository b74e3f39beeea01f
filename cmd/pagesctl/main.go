package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

func main() {
	run := func() int {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := loadDotenv(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		var cli CLI
		kctx := kong.Parse(&cli,
			kong.Name("pagesctl"),
			kong.Description("Run the pages sweeps and task operations once."),
			kong.UsageOnError(),
		)

		g := &Globals{ctx: ctx, environ: os.Environ(), stdout: os.Stdout}
		if err := kctx.Run(g); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}
	os.Exit(run())
}
