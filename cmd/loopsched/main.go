// Command loopsched runs a small demo workload on an event loop scheduler and
// exposes its metrics over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "loopsched",
		Usage: "Run workers on a single-threaded event loop",
		Commands: []*cli.Command{
			RunCommand(),
			DriftCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
