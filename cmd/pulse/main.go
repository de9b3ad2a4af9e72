package main

import (
	"os"

	"github.com/regtech-io/pulse/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
