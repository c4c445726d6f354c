package main

import (
	"os"

	"github.com/planboo/photoreview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
