// Package version implements the "version" CLI command.
package version

import (
	"fmt"

	"github.com/mitchellh/cli"
)

// Command prints the running binary's human-readable version string.
type Command struct {
	UI      cli.Ui
	Version string
}

func (c *Command) Help() string {
	return "\nUsage: cda-core version\n\n  Prints the current version of cda-core.\n"
}

func (c *Command) Synopsis() string {
	return "Prints the version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(fmt.Sprintf("cda-core %s", c.Version))
	return 0
}
