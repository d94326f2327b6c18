package main

import (
	"os"

	"github.com/hal9000-dev/hal9000/internal/cmd"
	"github.com/hal9000-dev/hal9000/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.ReportError(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}
