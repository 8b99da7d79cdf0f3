// Command apex is the entry point for the apex CLI and daemon.
package main

import (
	"os"

	"github.com/apexhq/apex/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
