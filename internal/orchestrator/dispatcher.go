package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/delve/internal/filestore"
	"github.com/ShayCichocki/delve/internal/metrics"
	"github.com/ShayCichocki/delve/pkg/models"
)

// Worker researches a single directive against a snapshot of the shared files.
// agent.Researcher is the production implementation.
type Worker interface {
	Run(ctx context.Context, d models.Directive, snap filestore.Snapshot) (*models.WorkerResult, error)
}

// Dispatcher runs one Worker per directive with bounded parallelism.
type Dispatcher struct {
	worker        Worker
	maxConcurrent int
	workerTimeout time.Duration
	emitter       *EventEmitter
	metrics       *metrics.Recorder
}

// NewDispatcher creates a Dispatcher. emitter and rec may be nil.
func NewDispatcher(w Worker, maxConcurrent int, workerTimeout time.Duration, emitter *EventEmitter, rec *metrics.Recorder) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Dispatcher{
		worker:        w,
		maxConcurrent: maxConcurrent,
		workerTimeout: workerTimeout,
		emitter:       emitter,
		metrics:       rec,
	}
}

// Dispatch runs every directive and returns exactly one result per directive,
// in input order. A failing or panicking worker yields a sentinel result and
// never affects its siblings. Dispatch returns only after every worker it
// started has returned.
func (d *Dispatcher) Dispatch(ctx context.Context, round int, directives []models.Directive, snap filestore.Snapshot) []models.WorkerResult {
	results := make([]models.WorkerResult, len(directives))

	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)
	for i, dir := range directives {
		g.Go(func() error {
			results[i] = d.runOne(ctx, round, dir, snap)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) runOne(ctx context.Context, round int, dir models.Directive, snap filestore.Snapshot) (res models.WorkerResult) {
	if err := ctx.Err(); err != nil {
		debugLog("[dispatcher] %s not started: %v", dir.Subtopic, err)
		res = models.FailedResult(dir, fmt.Sprintf("not started: %v", err))
		d.finish(round, res, 0)
		return res
	}

	d.emitter.Emit(Event{
		Type:        EventWorkerStarted,
		Round:       round,
		DirectiveID: dir.ID,
		Subtopic:    dir.Subtopic,
		Slug:        dir.Slug,
		Message:     fmt.Sprintf("%d searches", dir.SearchBudget),
	})

	workerCtx := ctx
	if d.workerTimeout > 0 {
		var cancel context.CancelFunc
		workerCtx, cancel = context.WithTimeout(ctx, d.workerTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			debugLog("[dispatcher] worker for %s panicked: %v", dir.Subtopic, p)
			res = models.FailedResult(dir, fmt.Sprintf("worker panicked: %v", p))
		}
		d.finish(round, res, time.Since(start))
	}()

	out, err := d.worker.Run(workerCtx, dir, snap)
	switch {
	case err != nil:
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			reason = fmt.Sprintf("timed out after %s: %v", d.workerTimeout, err)
		}
		debugLog("[dispatcher] worker for %s failed: %s", dir.Subtopic, reason)
		return models.FailedResult(dir, reason)
	case out == nil:
		return models.FailedResult(dir, "worker returned no result")
	}

	res = *out
	res.DirectiveID = dir.ID
	res.Subtopic = dir.Subtopic
	res.Slug = dir.Slug
	res.Writes = confineWrites(dir, res.Writes)
	return res
}

// finish emits the completion event and records metrics for one result.
func (d *Dispatcher) finish(round int, res models.WorkerResult, elapsed time.Duration) {
	ev := Event{
		Round:       round,
		DirectiveID: res.DirectiveID,
		Subtopic:    res.Subtopic,
		Slug:        res.Slug,
		Duration:    elapsed,
	}
	if res.Failed {
		ev.Type = EventWorkerFailed
		ev.Message = res.Failure
		ev.Error = errors.New(res.Failure)
		d.metrics.Directive(metrics.OutcomeFailed)
	} else {
		ev.Type = EventWorkerCompleted
		ev.Sources = res.SourceCount()
		ev.TokensUsed = res.TokensIn + res.TokensOut
		ev.Message = fmt.Sprintf("%d searches, %d sources", res.Searches, ev.Sources)
		d.metrics.Directive(metrics.OutcomeCompleted)
	}
	if elapsed > 0 {
		d.metrics.WorkerDuration(elapsed)
	}
	d.emitter.Emit(ev)
}

// confineWrites drops writes outside the directive's own directory.
func confineWrites(dir models.Directive, writes []models.FileWrite) []models.FileWrite {
	root := filestore.SubtopicDir(dir.Slug) + "/"
	kept := make([]models.FileWrite, 0, len(writes))
	for _, w := range writes {
		clean, err := filestore.Clean(w.Path)
		if err != nil || !strings.HasPrefix(clean, root) {
			debugLog("[dispatcher] dropping write %q from %s: outside %s", w.Path, dir.Subtopic, root)
			continue
		}
		kept = append(kept, models.FileWrite{Path: clean, Content: w.Content})
	}
	return kept
}
