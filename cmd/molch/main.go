package main

import (
	"os"

	"github.com/opd-ai/molch/cmd/molch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
