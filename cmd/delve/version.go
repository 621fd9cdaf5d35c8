package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delve/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("delve version %s\n", version.Get())
	},
}
