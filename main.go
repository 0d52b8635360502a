package main

import (
	"os"

	"github.com/mozilla-ai/mcpshield/cmd"
)

func main() {
	// Cobra has already printed the error.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
