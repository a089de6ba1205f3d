package main

import (
	"os"

	"github.com/rustyeddy/tranche/cmd/tranche/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
