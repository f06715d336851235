// Command repodeploy installs and maintains WordPress themes and plugins
// from GitHub repositories.
package main

import (
	"os"

	"github.com/kilupskalvis/repodeploy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
