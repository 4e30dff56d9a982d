// Command kittyctl operates a kitty ledger from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kittyctl:", err)
		os.Exit(1)
	}
}
