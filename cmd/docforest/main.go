// Command docforest is a small operator CLI over a docforest database:
// open/inspect a store, put and get documents, and sweep expired
// documents, grounded on sfncore-beads' cmd/bd cobra layout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
