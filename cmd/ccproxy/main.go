package main

import (
	"os"

	"github.com/ccproxy-dev/ccproxy/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
