package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "dupedog",
		Short:   "Find exact duplicates and similar files",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newScanCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
