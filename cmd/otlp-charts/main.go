package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/otlp-charts/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "otlp-charts",
		Usage:   "Live OTLP metric charts with exemplar-to-trace navigation",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(version),
			cli.VersionCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
