package main

import (
	"os"

	"github.com/tunnelgate/tunnelgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
