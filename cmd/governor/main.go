package main

import (
	"os"

	"github.com/xrpool/governor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
