// Package main provides the entry point for the docdex CLI.
package main

import (
	"os"

	"github.com/quillstack/docdex/cmd/docdex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
