package main

import (
	"os"

	"github.com/ppiankov/mdspull/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
