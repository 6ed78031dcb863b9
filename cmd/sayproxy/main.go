// Package main is the sayproxy CLI: a thin wrapper calling into
// pkg/sayproxy.Engine, mirroring how the teacher's cmd/adapter/main.go
// wires config -> service -> transport and nothing more.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "sayproxy",
	Short:   "Multi-backend text-to-speech engine",
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
