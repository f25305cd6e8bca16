// Package main is the entry point for the pandactl command.
package main

import (
	"os"

	"github.com/jmylchreest/pandactl/cmd/pandactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
