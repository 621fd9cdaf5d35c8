// Package tui provides the terminal progress view for delve's research command.
//
// The view is read-only. It shows:
//   - Current phase (supervising, researching, writing report)
//   - Supervisor round and completed iterations
//   - Researchers currently running, with their /research/<slug>/ directory
//   - Completed, failed and rejected subtopics, sources and token usage
//   - Activity log with recent events
//
// Users can only quit with 'q' or Ctrl+C; the caller decides what quitting
// means for the run.
//
// Usage:
//
//	program, app := tui.NewProgressProgram(topic, maxRounds, cfg.TUI.RefreshRate)
//	go tui.Forward(program, orch.Events())
//
//	// Signal completion
//	program.Send(tui.ProgressDoneMsg{OutputPath: path, Err: err})
//
// DescribeEvent renders the same one-line event descriptions used by the
// activity log, so headless output matches the view.
package tui
