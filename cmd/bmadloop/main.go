package main

import (
	"os"

	"bmadloop/internal/cli"
	"bmadloop/internal/errs"
)

func main() {
	err := cli.Execute(os.Stdout, os.Stderr)
	os.Exit(errs.ExitCode(err))
}
