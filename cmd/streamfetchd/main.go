// Package main is the entry point for streamfetchd.
package main

import (
	"os"

	"github.com/brightwavehq/streamfetch/cmd/streamfetchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
