// Package main is the featureprep command.
package main

import (
	"os"

	"github.com/leapstack-labs/featureprep/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
