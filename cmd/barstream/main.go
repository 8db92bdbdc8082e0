package main

import (
	"os"

	"github.com/quantrail/barstream/cmd/barstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
