// Command effectctl inspects and checks effect execution logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/effectcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
