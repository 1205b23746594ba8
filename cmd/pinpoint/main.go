package main

import (
	"os"

	"pinpoint/cmd/pinpoint/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
