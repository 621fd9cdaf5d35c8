package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ShayCichocki/delve/internal/orchestrator"
	"github.com/ShayCichocki/delve/internal/tui"
)

// runWithTUI runs the research behind the progress view. Quitting the view
// cancels the run; the report is still written from what was gathered.
func runWithTUI(ctx context.Context, orch *orchestrator.Orchestrator, sess *researchSession, topic, scope string, maxRounds int, refresh time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The view owns the terminal; warnings still reach the debug log.
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	program, _ := tui.NewProgressProgram(topic, maxRounds, refresh)
	go tui.Forward(program, orch.Events())

	type result struct {
		outcome *orchestrator.Outcome
		err     error
	}
	orchDone := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				orchDone <- result{err: fmt.Errorf("PANIC in orchestrator: %v", r)}
			}
		}()
		outcome, err := orch.Run(ctx, topic, scope)
		orchDone <- result{outcome: outcome, err: err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case res := <-orchDone:
		err := sess.finishQuiet(res.outcome, res.err)
		program.Send(tui.ProgressDoneMsg{OutputPath: sess.outPath, Err: err})
		// Wait for the user to quit so they can read the result.
		<-tuiDone
		sess.announce(res.outcome, err)
		return err

	case tuiErr := <-tuiDone:
		cancel()
		res := <-orchDone
		err := sess.finishQuiet(res.outcome, res.err)
		sess.announce(res.outcome, err)
		if tuiErr != nil {
			return fmt.Errorf("progress view: %w", tuiErr)
		}
		return err
	}
}
