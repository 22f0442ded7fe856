// Command chartcheck validates chart screenshots from the command line.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errNotAllAccepted) {
			os.Exit(1)
		}
		_, _ = fmt.Fprintf(os.Stderr, "chartcheck: %v\n", err)
		os.Exit(2)
	}
}
