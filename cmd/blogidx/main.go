// Package main provides the entry point for the blogidx CLI.
package main

import (
	"os"

	"github.com/pressridge/blogidx/cmd/blogidx/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
