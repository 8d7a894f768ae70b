package main

import (
	"os"

	"github.com/parley-dev/parley/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
