package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "shelfmerge",
	Short:         "Merge backup archives from the reference reading application",
	Long:          `shelfmerge merges two or more backup archives into one, resolving duplicates by semantic identity and rewriting foreign keys to stay internally consistent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
