// Command kgquery answers analytic questions about the graph dataset from the
// command line. It wires the same engine as the server.
package main

import (
	"fmt"
	"os"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
