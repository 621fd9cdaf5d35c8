package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delve/internal/api"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running research session to wrap up",
	Long: `Signal the research session running in the current directory to stop.

The supervisor finishes its current round, no further researchers are
started, and the report is written from the findings gathered so far.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		if err := api.SendStop(cwd); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		fmt.Println("Stop signal sent. The report will be written from the findings so far.")
		return nil
	},
}
