package main

import (
	"os"

	"mizu/cmd/mizu/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
