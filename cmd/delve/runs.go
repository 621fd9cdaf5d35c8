package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/delve/internal/state"
)

var (
	runsStatus    string
	runsLimit     int
	runsShowYAML  bool
	runsOlderThan time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List archived research runs",
	Long: `List research runs recorded in the project state database
(.delve/state.db), newest first.

Subcommands show a run's report, its research files, or clean up old runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(db *state.DB) error {
			var status *state.RunStatus
			if runsStatus != "" {
				s := state.RunStatus(runsStatus)
				status = &s
			}
			runs, err := db.ListRuns(status, runsLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded. Run 'delve research <topic>' to start.")
				return nil
			}
			printRuns(os.Stdout, runs, time.Now())
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a run",
	Long: `Print the report of an archived run. A unique ID prefix is enough.

With --yaml, prints the run record instead of the report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(db *state.DB) error {
			run, err := findRun(db, args[0])
			if err != nil {
				return err
			}
			if runsShowYAML {
				return writeRunYAML(os.Stdout, run)
			}
			if run.Report == "" {
				return fmt.Errorf("run %s has no report (status: %s)", run.ID, run.Status)
			}
			fmt.Print(run.Report)
			return nil
		})
	},
}

var runsFilesCmd = &cobra.Command{
	Use:   "files <run-id> [path]",
	Short: "List or print the research files of a run",
	Long: `Without a path, lists the files the researchers wrote to the shared
research store (/research/<slug>/...). With a path, prints that file.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(db *state.DB) error {
			run, err := findRun(db, args[0])
			if err != nil {
				return err
			}
			files, err := db.GetRunFiles(run.ID)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				for _, f := range files {
					fmt.Printf("%s  (%s)\n", f.Path, formatBytes(len(f.Content)))
				}
				return nil
			}
			for _, f := range files {
				if f.Path == args[1] {
					fmt.Print(f.Content)
					return nil
				}
			}
			return fmt.Errorf("run %s has no file %s", run.ID, args[1])
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(db *state.DB) error {
			run, err := findRun(db, args[0])
			if err != nil {
				return err
			}
			if err := db.DeleteRun(run.ID); err != nil {
				return err
			}
			printStatus("✓", "Deleted run "+run.ID, color.FgGreen)
			return nil
		})
	},
}

var runsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Mark dead runs as interrupted and purge old runs",
	Long: `Mark runs whose process exited without finishing as interrupted.
With --older-than, also delete finished runs older than the given age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(db *state.DB) error {
			n, err := state.NewRecoveryManager(db).Clean()
			if err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Marked %d interrupted run(s)", n), color.FgGreen)

			if runsOlderThan > 0 {
				purged, err := db.PurgeOldRuns(runsOlderThan)
				if err != nil {
					return err
				}
				printStatus("✓", fmt.Sprintf("Purged %d run(s) older than %s", purged, runsOlderThan), color.FgGreen)
			}
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Only list runs with this status (running, completed, partial, failed, interrupted)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 = all)")
	runsShowCmd.Flags().BoolVar(&runsShowYAML, "yaml", false, "Print the run record as YAML")
	runsCleanCmd.Flags().DurationVar(&runsOlderThan, "older-than", 0, "Delete finished runs older than this (e.g. 720h)")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsFilesCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsCleanCmd)
}

// withArchive opens the project state database for fn.
func withArchive(fn func(db *state.DB) error) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs recorded. Run 'delve research <topic>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return fn(db)
}

func findRun(db *state.DB, id string) (*state.Run, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no run matches %q", id)
	}
	return run, nil
}

// printRuns writes a table of runs.
func printRuns(w io.Writer, runs []state.Run, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tROUNDS\tSOURCES\tTOKENS\tTOPIC")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s ago\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Status,
			formatDuration(now.Sub(r.StartedAt)),
			r.Rounds,
			r.Sources,
			formatNumber(r.TokensIn+r.TokensOut),
			truncate(r.Topic, 50))
	}
	tw.Flush()
}

// writeRunYAML writes the run record, without the report body, as YAML.
func writeRunYAML(w io.Writer, run *state.Run) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return enc.Close()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h, m := int(d.Hours()), int(d.Minutes())%60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	// Add commas every 3 digits from the right
	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
	}
	for i := offset; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func formatBytes(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
