package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "delve",
	Short: "Deep research from the terminal",
	Long: `Delve turns a research topic into a cited markdown report.

A supervisor model plans the research and delegates focused questions to
parallel researchers. Each researcher runs a bounded search loop, writes
its findings to a shared research store, and returns a compressed summary.
When the supervisor is done, a writer turns the findings into a single
report with globally numbered citations.

Core capabilities:
- Plans and delegates research in rounds
- Runs researchers in parallel with bounded search budgets
- Keeps raw results, sources and findings per subtopic
- Renumbers citations across subtopics into one Sources list
- Archives every run for later inspection`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// printStatus prints a colored status symbol followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
