// Package metrics exposes run counters for prometheus. A nil *Recorder is
// valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Directive outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeTruncated = "truncated"
	OutcomeDiscarded = "discarded"
)

// Recorder holds the delve collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	rounds           prometheus.Counter
	directives       *prometheus.CounterVec
	searches         *prometheus.CounterVec
	generateCalls    *prometheus.CounterVec
	citationsDropped prometheus.Counter
	workerDuration   prometheus.Histogram
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delve_rounds_total",
			Help: "Supervisor decide/execute rounds completed.",
		}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delve_directives_total",
			Help: "Research directives by outcome.",
		}, []string{"outcome"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delve_searches_total",
			Help: "Web searches by outcome.",
		}, []string{"outcome"}),
		generateCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delve_generate_calls_total",
			Help: "Text generation calls by role and outcome.",
		}, []string{"role", "outcome"}),
		citationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delve_citations_dropped_total",
			Help: "Citation markers removed from reports because they could not be resolved.",
		}),
		workerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delve_worker_duration_seconds",
			Help:    "Wall time of researcher runs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
	r.registry.MustRegister(
		r.rounds,
		r.directives,
		r.searches,
		r.generateCalls,
		r.citationsDropped,
		r.workerDuration,
	)
	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RoundCompleted() {
	if r == nil {
		return
	}
	r.rounds.Inc()
}

func (r *Recorder) Directive(outcome string) {
	if r == nil {
		return
	}
	r.directives.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Search(err error) {
	if r == nil {
		return
	}
	r.searches.WithLabelValues(outcomeOf(err)).Inc()
}

func (r *Recorder) GenerateCall(role string, err error) {
	if r == nil {
		return
	}
	r.generateCalls.WithLabelValues(role, outcomeOf(err)).Inc()
}

func (r *Recorder) CitationsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.citationsDropped.Add(float64(n))
}

func (r *Recorder) WorkerDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.workerDuration.Observe(d.Seconds())
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, r *Recorder) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
