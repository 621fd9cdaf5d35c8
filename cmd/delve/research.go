package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delve/internal/advisor"
	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/config"
	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/internal/metrics"
	"github.com/ShayCichocki/delve/internal/orchestrator"
	"github.com/ShayCichocki/delve/internal/search"
	"github.com/ShayCichocki/delve/internal/state"
	"github.com/ShayCichocki/delve/internal/tui"
	"github.com/ShayCichocki/delve/pkg/models"
)

var (
	researchScope         string
	researchHeadless      bool
	researchOut           string
	researchMaxRounds     int
	researchMaxConcurrent int
	researchMaxSearches   int
	researchTokenBudget   int64
	researchProvider      string
	researchOverflow      string
	researchMetricsAddr   string
	researchNoArchive     bool
)

var researchCmd = &cobra.Command{
	Use:   "research <topic>",
	Short: "Research a topic and write a cited report",
	Long: `Research a topic on the web and write a markdown report.

The supervisor plans the research in rounds and delegates focused questions
to parallel researchers. When it is done, the findings are turned into one
report with numbered citations and a Sources list.

Without --scope, a short research scope is drafted from the topic first.

Stopping early (q in the TUI, Ctrl+C, or 'delve stop' from another terminal)
still writes a report from the findings gathered so far.

Examples:
  delve research "state of solid-state batteries"
  delve research "WebAssembly outside the browser" --scope "Focus on WASI and server runtimes in 2024-2025"
  delve research "rust in the linux kernel" --headless --out kernel-rust.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchScope, "scope", "", "Research scope (drafted from the topic when empty)")
	researchCmd.Flags().BoolVar(&researchHeadless, "headless", false, "Run without TUI (headless mode)")
	researchCmd.Flags().StringVarP(&researchOut, "out", "o", "", "Report path (default: <output.dir>/<topic-slug>.md)")
	researchCmd.Flags().IntVar(&researchMaxRounds, "max-rounds", 0, "Maximum supervisor rounds")
	researchCmd.Flags().IntVar(&researchMaxConcurrent, "max-concurrent", 0, "Maximum researchers per round")
	researchCmd.Flags().IntVar(&researchMaxSearches, "max-searches", 0, "Maximum web searches per researcher")
	researchCmd.Flags().Int64Var(&researchTokenBudget, "token-budget", 0, "Stop delegating after this many tokens (0 = unlimited)")
	researchCmd.Flags().StringVar(&researchProvider, "provider", "", "Search provider: tavily, serper, or brave")
	researchCmd.Flags().StringVar(&researchOverflow, "overflow", "", "Policy for oversized delegation batches: truncate or reject")
	researchCmd.Flags().StringVar(&researchMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	researchCmd.Flags().BoolVar(&researchNoArchive, "no-archive", false, "Do not record the run in the state database")
}

// applyResearchFlags copies explicitly set flags over the loaded config.
func applyResearchFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-rounds") {
		cfg.Research.MaxRounds = researchMaxRounds
	}
	if flags.Changed("max-concurrent") {
		cfg.Research.MaxConcurrent = researchMaxConcurrent
	}
	if flags.Changed("max-searches") {
		cfg.Research.MaxSearches = researchMaxSearches
	}
	if flags.Changed("token-budget") {
		cfg.Research.TokenBudget = researchTokenBudget
	}
	if flags.Changed("provider") {
		cfg.Search.Provider = researchProvider
	}
	if flags.Changed("overflow") {
		cfg.Research.OverflowPolicy = researchOverflow
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = researchMetricsAddr
	}
	if flags.Changed("no-archive") {
		cfg.Output.Archive = !researchNoArchive
	}
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return errors.New("research topic is empty")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyResearchFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	searchKey, err := config.GetSearchAPIKey(cfg)
	if err != nil {
		return err
	}
	searcher, err := search.New(cfg.Search.Provider, searchKey)
	if err != nil {
		return fmt.Errorf("create search client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scope := strings.TrimSpace(researchScope)
	if scope == "" {
		scope = draftScope(ctx, api.WithRetry(client.WithModel(cfg.Models.Advisor), advisorAttempts, time.Second), topic)
	}

	logger := orchestrator.NewDebugLoggerForDir(cwd)
	defer logger.Close()

	opts := orchestrator.FromConfig(cfg)
	opts = append(opts,
		orchestrator.WithLogger(logger),
		orchestrator.WithRoles(rolesFor(client, cfg.Models)),
	)

	notifs, err := api.NewNotificationManager(cwd)
	if err != nil {
		logger.Log("stop signals disabled: %v", err)
	} else {
		notifs.ClearSignals()
		defer notifs.Close()
		opts = append(opts, orchestrator.WithNotifications(notifs))
	}

	if cfg.Metrics.Addr != "" {
		rec := metrics.New()
		opts = append(opts, orchestrator.WithMetrics(rec))
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, rec); err != nil {
				logger.Log("metrics server: %v", err)
			}
		}()
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{Generator: client, Searcher: searcher}, opts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	sess := &researchSession{
		runID:   orch.RunID(),
		outPath: reportPath(cfg.Output.Dir, researchOut, topic),
		logger:  logger,
	}
	if cfg.Output.Archive {
		sess.archive = openArchive(cwd, logger)
		if sess.archive != nil {
			defer sess.archive.Close()
			sess.start(topic, scope)
		}
	}

	var runErr error
	if researchHeadless {
		printStatus("→", fmt.Sprintf("Researching %q (run %s)", topic, orch.RunID()), color.FgCyan)
		printStatus("→", "Scope: "+scope, color.FgCyan)
		outcome, err := runHeadless(ctx, orch, topic, scope)
		runErr = sess.finish(outcome, err)
	} else {
		runErr = runWithTUI(ctx, orch, sess, topic, scope, cfg.Research.MaxRounds, cfg.TUI.RefreshRate)
	}
	if client.Tracker().Calls() > 0 {
		printStatus("$", usageSummary(client.Tracker()), color.FgWhite)
	}
	return runErr
}

// usageSummary describes the API usage of a run, including the scope draft.
func usageSummary(t *api.TokenTracker) string {
	in, out := t.Total()
	return fmt.Sprintf("%d API calls, %s input / %s output tokens, ~$%.2f",
		t.Calls(), formatNumber(in), formatNumber(out), t.Cost())
}

// advisorAttempts bounds the scope draft; the orchestrator retries its own roles.
const advisorAttempts = 2

// newAPIClient creates the shared Anthropic client. Role clients are derived
// from it with WithModel so they share one token tracker.
func newAPIClient(cfg *config.Config) (*api.Client, error) {
	clientCfg := api.ClientConfig{
		Model:         anthropic.Model(cfg.Models.Supervisor),
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cfg.Anthropic.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		if err := config.ValidateAPIKey(key); err != nil {
			return nil, fmt.Errorf("%s API key: %w", config.GetAPIKeySource(cfg), err)
		}
		clientCfg.APIKey = key
	}

	client, err := api.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// rolesFor maps the configured models onto the pipeline roles.
func rolesFor(client *api.Client, m config.ModelsConfig) orchestrator.Roles {
	return orchestrator.Roles{
		Supervisor:  client.WithModel(m.Supervisor),
		Researcher:  client.WithModel(m.Researcher),
		Compression: client.WithModel(m.Compression),
		Writer:      client.WithModel(m.Writer),
	}
}

// draftScope asks the advisor for a scope and falls back to the topic itself.
func draftScope(ctx context.Context, gen api.Generator, topic string) string {
	printStatus("→", "Drafting a research scope...", color.FgCyan)
	scope, err := advisor.DraftScope(ctx, gen, topic)
	if err != nil {
		printStatus("⚠", fmt.Sprintf("Could not draft a scope (%v), researching the topic as given", err), color.FgYellow)
		return topic
	}
	printStatus("✓", "Scope: "+scope, color.FgGreen)
	return scope
}

// reportPath returns where the report is written: out when set, otherwise
// <dir>/<topic-slug>.md.
func reportPath(dir, out, topic string) string {
	if out != "" {
		return out
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filestore.Slugify(topic)+".md")
}

// openArchive opens the project state database, marking runs left behind by
// dead processes as interrupted. Returns nil when the archive is unavailable.
func openArchive(workDir string, logger *orchestrator.DebugLogger) *state.DB {
	db, err := state.OpenProject(workDir)
	if err != nil {
		logger.Log("run archive disabled: %v", err)
		return nil
	}
	if err := db.Migrate(); err != nil {
		logger.Log("run archive disabled: %v", err)
		db.Close()
		return nil
	}
	if n, err := state.NewRecoveryManager(db).Clean(); err != nil {
		logger.Log("recover interrupted runs: %v", err)
	} else if n > 0 {
		logger.Log("marked %d interrupted run(s)", n)
	}
	return db
}

// runHeadless runs the research and prints one line per event.
func runHeadless(ctx context.Context, orch *orchestrator.Orchestrator, topic, scope string) (*orchestrator.Outcome, error) {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range orch.Events() {
			printEvent(ev)
		}
	}()

	outcome, err := orch.Run(ctx, topic, scope)
	<-printed
	if n := orch.DroppedEventCount(); n > 0 {
		printStatus("⚠", fmt.Sprintf("%d progress event(s) were dropped", n), color.FgYellow)
	}
	return outcome, err
}

func printEvent(ev orchestrator.Event) {
	symbol, text, ok := tui.DescribeEvent(ev)
	if !ok {
		return
	}
	attr := color.FgCyan
	switch symbol {
	case "✓":
		attr = color.FgGreen
	case "✗":
		attr = color.FgRed
	case "⚠":
		attr = color.FgYellow
	}
	printStatus(symbol, text, attr)
}

// researchSession carries what is needed to persist a run once it returns.
type researchSession struct {
	runID   string
	outPath string
	archive *state.DB
	logger  *orchestrator.DebugLogger
	written bool
}

func (s *researchSession) start(topic, scope string) {
	err := s.archive.CreateRun(&state.Run{
		ID:        s.runID,
		Topic:     topic,
		Scope:     scope,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	})
	if err != nil {
		s.logger.Log("archive run %s: %v", s.runID, err)
		s.archive.Close()
		s.archive = nil
	}
}

// finish persists the run and reports where the report went.
func (s *researchSession) finish(outcome *orchestrator.Outcome, runErr error) error {
	err := s.finishQuiet(outcome, runErr)
	s.announce(outcome, err)
	return err
}

// finishQuiet writes the report and archives the run. The returned error is
// the run error joined with any error writing the report.
func (s *researchSession) finishQuiet(outcome *orchestrator.Outcome, runErr error) error {
	var writeErr error
	if outcome != nil && outcome.Report != nil {
		writeErr = writeReport(s.outPath, outcome.Report.Markdown)
		s.written = writeErr == nil
	}

	if s.archive != nil {
		if err := s.archive.FinishRun(archivedRun(s.runID, outcome, runErr)); err != nil {
			s.logger.Log("archive run %s: %v", s.runID, err)
		}
		if outcome != nil {
			if err := s.archive.SaveFiles(s.runID, outcome.Files); err != nil {
				s.logger.Log("archive files of %s: %v", s.runID, err)
			}
		}
	}
	return errors.Join(runErr, writeErr)
}

func (s *researchSession) announce(outcome *orchestrator.Outcome, err error) {
	switch {
	case !s.written:
		printStatus("✗", "No report was written", color.FgRed)
	case err != nil:
		printStatus("⚠", "Partial report written to "+s.outPath, color.FgYellow)
	default:
		printStatus("✓", "Report written to "+s.outPath, color.FgGreen)
	}
	if outcome != nil && outcome.State != nil {
		fmt.Printf("  Run: %s  Reason: %s  Rounds: %d  Tokens: %d in / %d out\n",
			s.runID, outcome.State.Reason, outcome.State.Iterations, outcome.TokensIn, outcome.TokensOut)
	}
}

func writeReport(path, markdown string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(markdown), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// archivedRun converts a run outcome into its archive record.
func archivedRun(id string, outcome *orchestrator.Outcome, runErr error) *state.Run {
	r := &state.Run{ID: id, Status: runStatusFor(outcome, runErr)}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if outcome == nil {
		return r
	}
	if outcome.State != nil {
		r.Reason = string(outcome.State.Reason)
		r.Rounds = outcome.State.Iterations
	}
	if outcome.Report != nil {
		r.Sources = len(outcome.Report.Sources)
		r.Report = outcome.Report.Markdown
	}
	r.TokensIn = outcome.TokensIn
	r.TokensOut = outcome.TokensOut
	if !outcome.Finished.IsZero() {
		finished := outcome.Finished
		r.FinishedAt = &finished
	}
	return r
}

// runStatusFor classifies a finished run. Runs cut short by a deadline, a
// stop request or the token budget are partial; errors with findings are
// partial too.
func runStatusFor(outcome *orchestrator.Outcome, runErr error) state.RunStatus {
	if outcome == nil || outcome.State == nil {
		return state.RunFailed
	}
	if runErr != nil {
		if len(outcome.State.Notes) > 0 {
			return state.RunPartial
		}
		return state.RunFailed
	}
	switch outcome.State.Reason {
	case models.StopDeadline, models.StopSignal, models.StopBudget:
		return state.RunPartial
	}
	return state.RunCompleted
}
