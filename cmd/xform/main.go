// Package main provides the xform CLI.
package main

import (
	"os"

	"github.com/born-ml/xform/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
