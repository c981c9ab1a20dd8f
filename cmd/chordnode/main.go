package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chordnode",
		Short: "Run a peer in a Chord-based file-sharing overlay",
	}
	root.AddCommand(newServeCmd())
	return root
}
