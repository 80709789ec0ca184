// Command lexner is the LexNER command line.
package main

import (
	"os"

	"github.com/turtacn/LexNER/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
