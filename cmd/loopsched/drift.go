package main

import (
	"fmt"

	"github.com/Swind/go-loopsched/core"
	"github.com/urfave/cli/v2"
)

func DriftCommand() *cli.Command {
	return &cli.Command{
		Name:  "drift",
		Usage: "Print the clock drift tolerance resolved from the environment",
		Action: func(c *cli.Context) error {
			fmt.Printf("clock drift tolerance: %s\n", core.ClockDriftTolerance())
			return nil
		},
	}
}
