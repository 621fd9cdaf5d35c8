// Package orchestrator coordinates a research run.
//
// The orchestrator package provides:
//   - Supervisor: the decide/execute loop that splits a research scope into
//     subtopics and delegates them with the reflect, delegate and complete tools
//   - Dispatcher: bounded parallel fan-out of researchers with one result per
//     directive, in directive order
//   - Aggregator: folds findings into the run notes and the shared
//     /research store, rewriting /research/index.md after every round
//
// Rounds are strictly sequential. Researchers only see an immutable snapshot
// of the store; their writes are applied by the aggregator once a batch joins.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Generator: client,
//		Searcher:  searcher,
//	}, orchestrator.WithMaxRounds(4))
//	outcome, err := orch.Run(ctx, "Go vs Rust", "Compare Go and Rust for network services")
//	fmt.Println(outcome.Report.Markdown)
package orchestrator
